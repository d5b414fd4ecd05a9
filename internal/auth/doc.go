// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides session-based authentication for the portal.
//
// # Domain Types
//
// Domain types (Account, Session) should be created using their constructors:
//   - NewAccount - creates an Account with a validated username and password hash
//   - NewAnonymousSession - creates an unbound Session for a first-contact client
//   - NewAuthenticatedSession - creates a Session bound to an account
//
// Direct struct initialization bypasses validation and may create invalid state.
//
// # Services
//
// Service coordinates sign-in, sign-up, sign-out and token resolution. It depends
// on an AccountRepository, a SessionStore and a PasswordHasher, all passed in
// explicitly. Guard decides whether a session may reach a protected operation; it
// reads session state only and never re-verifies credentials.
//
// Sign-in failures are deliberately uniform (ErrInvalidCredentials) while sign-up
// collisions name the username (ErrUsernameTaken). Keep that asymmetry visible in
// security reviews.
package auth
