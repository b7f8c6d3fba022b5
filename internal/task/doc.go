// Package task defines schedulable units of work and the recurrence policies
// that compute when they run next.
//
// A Task carries no identity. The scheduler keys it by its next run time,
// forwards its opaque state to the action, and never inspects that state.
package task
