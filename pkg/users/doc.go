// Package users analyzes decision requests at the user level.
//
// Every request is appended to its user's history, kept ordered by
// timestamp, and folded into the owning session. The user's behavior
// pattern and personalization counters are recomputed on every write;
// segments, cohorts and lifetime value are derived on read.
//
// Pattern tiers follow request frequency (requests per day between the
// first and the latest request): more than 20 is a power user, more than 5
// a frequent user, more than 1 a casual user, anything else a trial user.
// A user without activity for 30 days reads as churned regardless of tier.
package users
