package events

// Channel names one of the fixed event channels of the hub.
type Channel string

const (
	ChannelStream       Channel = "stream"
	ChannelScriptOutput Channel = "script-output"
	ChannelTerminalData Channel = "terminal-data"
	ChannelTerminalExit Channel = "terminal-exit"
	ChannelFileChange   Channel = "file-change"
	ChannelStatusChange Channel = "status-change"
)

// Channels lists every channel the hub knows about.
var Channels = []Channel{
	ChannelStream,
	ChannelScriptOutput,
	ChannelTerminalData,
	ChannelTerminalExit,
	ChannelFileChange,
	ChannelStatusChange,
}

// Valid reports whether c is one of the fixed channels.
func (c Channel) Valid() bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}

// Payload is implemented by the payload type of each channel. The payload type determines
// the channel, so a channel's shape cannot vary between call sites.
type Payload interface {
	Channel() Channel
	// Key returns the producer key the payload belongs to.
	Key() string
}

// StreamToken is a chunk of an agent response stream.
type StreamToken struct {
	Type           string `json:"type"`
	SessionID      string `json:"sessionId"`
	Data           string `json:"data,omitempty"`
	ChildSessionID string `json:"childSessionId,omitempty"`
	StatusPayload  any    `json:"statusPayload,omitempty"`
}

func (StreamToken) Channel() Channel { return ChannelStream }
func (p StreamToken) Key() string    { return p.SessionID }

type ScriptOutputType string

const (
	ScriptCommandStart ScriptOutputType = "command-start"
	ScriptOutputData   ScriptOutputType = "output"
	ScriptError        ScriptOutputType = "error"
	ScriptDone         ScriptOutputType = "done"
)

// ScriptOutput is emitted by sequential script runs.
type ScriptOutput struct {
	// ProducerKey is the key the script runs under.
	ProducerKey string           `json:"key"`
	Type        ScriptOutputType `json:"type"`
	Command     string           `json:"command,omitempty"`
	Data        string           `json:"data,omitempty"`
	// ExitCode is set on done events.
	ExitCode *int `json:"exitCode,omitempty"`
}

func (ScriptOutput) Channel() Channel { return ChannelScriptOutput }
func (p ScriptOutput) Key() string    { return p.ProducerKey }

// TerminalData is raw output of a persistent terminal.
type TerminalData struct {
	TerminalKey string `json:"key"`
	Data        string `json:"data"`
}

func (TerminalData) Channel() Channel { return ChannelTerminalData }
func (p TerminalData) Key() string    { return p.TerminalKey }

// TerminalExit is emitted once when a persistent terminal's process exits.
type TerminalExit struct {
	TerminalKey string `json:"key"`
	ExitCode    int    `json:"exitCode"`
}

func (TerminalExit) Channel() Channel { return ChannelTerminalExit }
func (p TerminalExit) Key() string    { return p.TerminalKey }

type FileChangeKind string

const (
	FileAdded   FileChangeKind = "add"
	DirAdded    FileChangeKind = "addDir"
	FileRemoved FileChangeKind = "unlink"
	DirRemoved  FileChangeKind = "unlinkDir"
	FileChanged FileChangeKind = "change"
)

// FileChange describes a change in a watched file tree.
type FileChange struct {
	RootPath     string         `json:"rootPath"`
	Kind         FileChangeKind `json:"kind"`
	ChangedPath  string         `json:"changedPath"`
	RelativePath string         `json:"relativePath"`
}

func (FileChange) Channel() Channel { return ChannelFileChange }
func (p FileChange) Key() string    { return p.RootPath }

// StatusChange signals that the version control status of a worktree changed.
type StatusChange struct {
	Path string `json:"path"`
}

func (StatusChange) Channel() Channel { return ChannelStatusChange }
func (p StatusChange) Key() string    { return p.Path }

// Event is what listeners receive: the payload plus its routing fields.
type Event struct {
	Channel Channel `json:"channel"`
	Key     string  `json:"key"`
	// Seq increases by one for every event emitted on the hub.
	Seq     uint64  `json:"seq"`
	Payload Payload `json:"payload"`
}
