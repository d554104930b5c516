// Package commands implements the four postbox operations.
//
// # Overview
//
// A Handler composes the profile directory, the mailbox, and a Messenger
// (the platform frontend) into the commands users invoke:
//
//   - profile: issue or reissue the invoker's 4-digit mail code
//   - send <code> <message>: DM the code's holder and record the mail
//   - mail: list the invoker's mailbox, oldest first
//   - explore: list all profiles and codes (optionally allowlisted)
//
// # Privacy
//
// Every reply goes to the invoker only. A profile code is never shown to
// anyone but its owner unless the owner shares it, and mailboxes are only
// readable by their owner. The explore command is the deliberate
// exception: it discloses the whole directory to whoever may call it,
// which is why it can be restricted via Config.ExploreAllowed.
//
// # Delivery and Persistence
//
// send persists mail only after the direct message was delivered: a
// failed or timed-out delivery leaves no mailbox record, so a recipient's
// mailbox never shows mail they were not messaged about. The delivery
// attempt is bounded by Config.DeliveryTimeout.
//
// # Error Handling
//
// Handlers return domain errors; Dispatch is the boundary that converts
// every one of them into a private, user-readable reply. Nothing a user
// does can propagate an error past Dispatch.
package commands
