// Package notice defines the core types, collaborator interfaces, and error
// taxonomy of the notice-board notifier, plus the novelty detector that turns a
// freshly fetched listing into the ordered set of posts that still need to be
// delivered.
package notice
