// Package dsr implements the data-subject-rights operations for Mailgun
// mailing lists: seed, access and erasure.
//
// Access enumerates every list on the account and probes membership on all of
// them concurrently. Erasure removes the subject from the lists an earlier
// access call returned in its context dictionary; it never re-derives that set
// itself. Under the default probe policy no operation fails because of an
// individual upstream call: failures are logged and the result under-delivers
// instead.
//
// The service depends on the MailingLists interface defined in ports.go and
// never imports net/http directly.
package dsr
