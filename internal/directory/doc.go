// Package directory issues and resolves short numeric profile codes.
//
// Codes are drawn from crypto/rand at a fixed width, retried on
// collision, and widened one digit at a time when a width fills up.
// Reissuing replaces the user's previous code immediately.
package directory
