package cvs

import (
	"path"
	"regexp"
	"strings"
)

// FileStatus is one entry reported by the status command.
type FileStatus struct {
	// Path is relative to the working copy root, with forward slashes.
	Path string

	// Code is the single-letter status code, as printed by
	// "cvs -n -q update": one of MADRC?UPI.
	Code byte
}

// StatusResult is the outcome of Repository.GetStatus.
type StatusResult struct {
	Entries     []FileStatus
	DidHitLimit bool
}

// Status codes emitted by the parser.
const (
	CodeModified   byte = 'M'
	CodeAdded      byte = 'A'
	CodeDeleted    byte = 'D'
	CodeRemoved    byte = 'R'
	CodeConflicted byte = 'C'
	CodeUnknown    byte = '?'
	CodeUpdated    byte = 'U'
	CodePatched    byte = 'P'
	CodeIgnored    byte = 'I'
)

const shortCodes = "MADRC?UPI"

var (
	fileLineRe     = regexp.MustCompile(`^File:\s+(.+?)\s+Status:\s+(.+?)\s*$`)
	revisionLineRe = regexp.MustCompile(`^\s*Repository revision:\s+\S+\s+(.+),v\s*$`)
	examiningRe    = regexp.MustCompile(`^cvs (?:status|server): Examining (.+?)\s*$`)
)

const blockSeparator = "==================="

// verboseCodes maps the Status field of "cvs status" blocks to codes.
// Up-to-date files are not reported.
var verboseCodes = map[string]byte{
	"Locally Modified":            CodeModified,
	"Locally Added":               CodeAdded,
	"Locally Removed":             CodeRemoved,
	"Needs Checkout":              CodeUpdated,
	"Needs Patch":                 CodePatched,
	"Needs Merge":                 CodeConflicted,
	"Unresolved Conflict":         CodeConflicted,
	"File had conflicts on merge": CodeConflicted,
	"Entry Invalid":               CodeDeleted,
	"Unknown":                     CodeUnknown,
}

// StatusParser turns client status output into FileStatus entries.
//
// Output may be fed in arbitrary chunks; entries become available as soon
// as their line is complete. It understands the one-line format of
// "cvs -n -q update" ("M path") and the block format of "cvs status".
//
// "cvs status" names only the base name of each file on stdout. The
// directory is taken from the block's repository revision path, relative
// to the repository directory set with WithRepositoryDir, and otherwise
// from the "Examining" lines the client writes to stderr, when those are
// part of the input.
type StatusParser struct {
	repoDir string
	partial string
	dir     string
	pending *FileStatus
	entries []FileStatus
}

// ParserOption configures a StatusParser.
type ParserOption func(*StatusParser)

// WithRepositoryDir sets the repository directory the working copy root
// mirrors, such as /cvsroot/proj.
func WithRepositoryDir(dir string) ParserOption {
	return func(p *StatusParser) {
		if dir != "" {
			p.repoDir = strings.TrimSuffix(path.Clean(dir), "/")
		}
	}
}

// NewStatusParser creates an empty parser.
func NewStatusParser(opts ...ParserOption) *StatusParser {
	p := &StatusParser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Update consumes a chunk of output.
func (p *StatusParser) Update(chunk string) {
	data := p.partial + chunk
	for {
		i := strings.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		p.parseLine(data[:i])
		data = data[i+1:]
	}
	p.partial = data
}

// Flush parses a trailing line that had no newline and completes the last
// status block.
func (p *StatusParser) Flush() {
	if p.partial != "" {
		p.parseLine(p.partial)
		p.partial = ""
	}
	p.completeBlock("")
}

// Status returns the entries parsed so far. The slice must not be modified.
func (p *StatusParser) Status() []FileStatus {
	return p.entries
}

// Len returns the number of entries parsed so far.
func (p *StatusParser) Len() int {
	return len(p.entries)
}

func (p *StatusParser) parseLine(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}

	if len(line) > 2 && line[1] == ' ' && strings.IndexByte(shortCodes, line[0]) >= 0 {
		p.completeBlock("")
		p.add(line[2:], line[0])
		return
	}

	if strings.HasPrefix(line, blockSeparator) {
		p.completeBlock("")
		return
	}

	if m := examiningRe.FindStringSubmatch(line); m != nil {
		p.completeBlock("")
		p.dir = m[1]
		return
	}

	if m := revisionLineRe.FindStringSubmatch(line); m != nil {
		p.completeBlock(p.relativeDir(m[1]))
		return
	}

	if m := fileLineRe.FindStringSubmatch(line); m != nil {
		p.completeBlock("")
		name, state := m[1], m[2]
		code, ok := verboseCodes[state]
		if !ok {
			return
		}
		// A file missing from the working copy is reported as "no file <name>".
		if rest, missing := strings.CutPrefix(name, "no file "); missing {
			name = rest
			if code == CodeUpdated {
				code = CodeDeleted
			}
		}
		p.pending = &FileStatus{Path: name, Code: code}
	}
}

// completeBlock emits the pending block entry in dir, or in the last
// examined directory when dir is empty.
func (p *StatusParser) completeBlock(dir string) {
	if p.pending == nil {
		return
	}
	entry := *p.pending
	p.pending = nil

	if dir == "" {
		dir = p.dir
	}
	if dir != "" && dir != "." {
		entry.Path = path.Join(dir, entry.Path)
	}
	p.entries = append(p.entries, entry)
}

// relativeDir maps the RCS file of a revision line to its directory
// relative to the working copy root. It returns "" when the file is not
// under the repository directory.
func (p *StatusParser) relativeDir(rcsFile string) string {
	if p.repoDir == "" {
		return ""
	}
	rel, ok := strings.CutPrefix(rcsFile, p.repoDir+"/")
	if !ok {
		return ""
	}
	dir := path.Dir(rel)
	if path.Base(dir) == "Attic" {
		dir = path.Dir(dir)
	}
	return dir
}

func (p *StatusParser) add(name string, code byte) {
	p.entries = append(p.entries, FileStatus{Path: name, Code: code})
}
