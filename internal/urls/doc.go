// Package urls holds the reference document URLs printed in help text and
// troubleshooting tips, so they can be updated in one place.
package urls
