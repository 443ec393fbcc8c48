// Package campaign implements campaign lifecycle management.
//
// The service layer contains all business logic for admitting, pausing,
// resuming, canceling, and retrying paced campaigns. It depends on the
// Repository interface defined in this package and should never import
// from api/ or worker/.
//
// The Repository implementation lives in repository/postgres/.
package campaign
