package hfsm

import "strings"

// PathSeparator separates state names in paths and qualified states
const PathSeparator = "/"

// eventRecord carries one transition attempt down the machine tree. The
// event name is empty for redirects and initial descents.
type eventRecord struct {
	event  string
	target string
}

func newEventRecord(event, target string) eventRecord {
	return eventRecord{event: event, target: target}
}

// absolute reports whether target is resolved from the root
func (r eventRecord) absolute() bool {
	return strings.HasPrefix(r.target, PathSeparator)
}

func (r eventRecord) fromRoot() eventRecord {
	return eventRecord{event: r.event, target: strings.TrimPrefix(r.target, PathSeparator)}
}

// head splits off the first path segment
func (r eventRecord) head() (segment, rest string) {
	segment, rest, _ = strings.Cut(r.target, PathSeparator)
	return segment, rest
}

// narrow returns the record for the next level down
func (r eventRecord) narrow(rest string) eventRecord {
	return eventRecord{event: r.event, target: rest}
}

// JoinPath joins state names into a path
func JoinPath(names ...string) string {
	return strings.Join(names, PathSeparator)
}

// SplitPath splits a qualified state or path into its names, dropping a
// leading separator
func SplitPath(path string) []string {
	path = strings.TrimPrefix(path, PathSeparator)
	if path == "" {
		return nil
	}
	return strings.Split(path, PathSeparator)
}

func validName(name string) bool {
	return name != "" && !strings.Contains(name, PathSeparator)
}
