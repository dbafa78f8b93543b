// Package campaign implements campaign lifecycle management.
//
// The service layer owns creating, editing, duplicating, scheduling,
// pausing and resuming campaigns. Sending itself lives in the delivery
// service; this package only guards the status edges around it and the
// sender domain checks every send path shares (CheckSender, ResolveSender).
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package campaign
