// Package trust checks that a sending domain publishes the DNS authentication
// records the platform expects (SPF, DMARC, a routing CNAME, and DKIM).
//
// Verification is on-demand and total: every lookup failure is recorded as
// a reason on the affected record and never escapes as an error. DKIM is
// looked up for information only and never counts toward the overall result.
package trust
