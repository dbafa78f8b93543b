// Package sendingdomain manages the domains an organization sends from:
// registration with the expected DNS records, verification against live
// DNS through the trust package, record regeneration and optional
// publication to a Route53 hosted zone.
package sendingdomain
