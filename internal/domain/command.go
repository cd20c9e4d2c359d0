package domain

// CommandKind names a daemon command on the wire
type CommandKind string

const (
	CommandStartNew CommandKind = "start_new"
	CommandPause    CommandKind = "pause"
	CommandStop     CommandKind = "stop"
	CommandResume   CommandKind = "resume"
	CommandMigrate  CommandKind = "migrate"
	CommandRestore  CommandKind = "restore"
	CommandShutdown CommandKind = "shutdown"
)

// Command is a fire-and-forget message for the daemon. The set of
// implementations is closed; only this package can add one.
type Command interface {
	Kind() CommandKind
	// DLID is the download the command targets, or "" for daemon-wide commands
	DLID() string
	isCommand()
}

// StartNewDownload asks the daemon to begin a transfer under a fresh id
type StartNewDownload struct {
	URL         string
	ID          string
	ContentType string
	ChannelName string
}

// PauseDownload asks the daemon to pause a transfer
type PauseDownload struct {
	ID string
}

// StopDownload asks the daemon to stop a transfer and forget its id
type StopDownload struct {
	ID     string
	Delete bool
}

// ResumeDownload asks the daemon to continue a paused or stopped transfer
type ResumeDownload struct {
	ID string
}

// MigrateDownload asks the daemon to move a transfer's files into Directory
type MigrateDownload struct {
	ID        string
	Directory string
}

// RestoreDownload hands the daemon the last known snapshot of a transfer so
// it can continue tracking it without redoing resolution
type RestoreDownload struct {
	ID     string
	Status DownloadStatus
}

// ShutdownDaemon asks the daemon process to exit
type ShutdownDaemon struct{}

func (StartNewDownload) Kind() CommandKind { return CommandStartNew }
func (PauseDownload) Kind() CommandKind    { return CommandPause }
func (StopDownload) Kind() CommandKind     { return CommandStop }
func (ResumeDownload) Kind() CommandKind   { return CommandResume }
func (MigrateDownload) Kind() CommandKind  { return CommandMigrate }
func (RestoreDownload) Kind() CommandKind  { return CommandRestore }
func (ShutdownDaemon) Kind() CommandKind   { return CommandShutdown }

func (c StartNewDownload) DLID() string { return c.ID }
func (c PauseDownload) DLID() string    { return c.ID }
func (c StopDownload) DLID() string     { return c.ID }
func (c ResumeDownload) DLID() string   { return c.ID }
func (c MigrateDownload) DLID() string  { return c.ID }
func (c RestoreDownload) DLID() string  { return c.ID }
func (ShutdownDaemon) DLID() string     { return "" }

func (StartNewDownload) isCommand() {}
func (PauseDownload) isCommand()    {}
func (StopDownload) isCommand()     {}
func (ResumeDownload) isCommand()   {}
func (MigrateDownload) isCommand()  {}
func (RestoreDownload) isCommand()  {}
func (ShutdownDaemon) isCommand()   {}

// commandStates lists, per command, the states a download may be in when the
// command is sent. Commands missing from the table are legal in any state.
var commandStates = map[CommandKind][]DownloadState{
	CommandStartNew: {StateResolvingType, StateDownloading},
	CommandPause:    {StateDownloading, StateUploading, StateOffline},
	CommandStop:     {StateDownloading, StateUploading},
	CommandResume:   {StateStopped, StatePaused, StateOffline},
}

// CommandAllowed reports whether a command of the given kind may be sent for
// a download in state s
func CommandAllowed(kind CommandKind, s DownloadState) bool {
	states, ok := commandStates[kind]
	if !ok {
		return true
	}
	for _, allowed := range states {
		if allowed == s {
			return true
		}
	}
	return false
}

// StatusReport is one asynchronous snapshot pushed by the daemon
type StatusReport struct {
	DLID   string
	Status DownloadStatus
}
