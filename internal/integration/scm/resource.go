package scm

import (
	"net/url"
	"path/filepath"
	"strings"
)

// Status is the version-control state of a file.
type Status int

const (
	// StatusUnknown is used for codes without a mapping.
	StatusUnknown Status = iota
	// StatusModified indicates local modifications.
	StatusModified
	// StatusDeleted indicates the file was removed locally.
	StatusDeleted
	// StatusUntracked indicates the file is not under version control.
	StatusUntracked
	// StatusIgnored indicates the file matches an ignore pattern.
	StatusIgnored
	// StatusAdded indicates the file is scheduled for addition.
	StatusAdded
	// StatusConflicted indicates a merge conflict.
	StatusConflicted
	// StatusOutdated indicates a newer revision exists in the repository.
	StatusOutdated
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusModified:
		return "modified"
	case StatusDeleted:
		return "deleted"
	case StatusUntracked:
		return "untracked"
	case StatusIgnored:
		return "ignored"
	case StatusAdded:
		return "added"
	case StatusConflicted:
		return "conflicted"
	case StatusOutdated:
		return "outdated"
	default:
		return "unknown"
	}
}

// statusCodes maps every code the status parser emits.
var statusCodes = map[byte]Status{
	'M': StatusModified,
	'D': StatusDeleted,
	'R': StatusDeleted,
	'A': StatusAdded,
	'?': StatusUntracked,
	'I': StatusIgnored,
	'C': StatusConflicted,
	'U': StatusOutdated,
	'P': StatusOutdated,
}

// StatusFromCode maps a status code, returning StatusUnknown for codes
// without a mapping.
func StatusFromCode(code byte) Status {
	if s, ok := statusCodes[code]; ok {
		return s
	}
	return StatusUnknown
}

// ResourceGroupType identifies a group of resources.
type ResourceGroupType int

const (
	// GroupWorkingTree holds changes in the working copy.
	GroupWorkingTree ResourceGroupType = iota
)

// String returns the group identifier.
func (g ResourceGroupType) String() string {
	if g == GroupWorkingTree {
		return "workingTree"
	}
	return "unknown"
}

// Resource is one changed file of a repository.
type Resource struct {
	Group ResourceGroupType

	// Path is absolute.
	Path   string
	Status Status

	// Code is the raw status code reported by the client.
	Code byte
}

// URI returns the file URI of the resource.
func (r Resource) URI() URI {
	return FileURI(r.Path)
}

// URI is a file:// location.
type URI string

// FileURI converts an absolute path to a URI.
func FileURI(path string) URI {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p}
	return URI(u.String())
}

// Path returns the filesystem path of a file URI.
func (u URI) Path() (string, bool) {
	parsed, err := url.Parse(string(u))
	if err != nil || parsed.Scheme != "file" {
		return "", false
	}
	p := parsed.Path
	// Drive-letter paths are written as /C:/dir.
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p), true
}

// String returns the URI text.
func (u URI) String() string {
	return string(u)
}
