// Package tracking implements engagement recording for tracked email.
//
// The open path is the interesting one: every pixel fetch goes through a
// Policy that decides whether the fetch looks like a person opening the
// message or an automated scan (mail-scanner prefetch, link preview,
// antivirus crawler). Only accepted opens are written, and a recent
// duplicate for the same email and recipient is never written twice.
//
// The service holds no tracking state of its own. Every decision re-reads
// the Repository, so it behaves the same across restarts and across
// replicas sharing a store. Two opens racing inside the same instant can
// both pass the duplicate check; counts are analytics grade, not exactly
// once.
//
// The service layer depends on the Repository interface defined in
// repository.go. It never imports net/http or database/sql directly.
package tracking
