// Package thing holds the data model shared by every validator: the thing
// description and its descriptors, action instances with their status state
// machine, event occurrences and the timestamp grammar.
package thing
