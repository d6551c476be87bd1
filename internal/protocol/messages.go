package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SaveID          string `json:"save_id,omitempty"`
	PlayerName      string `json:"player_name,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SaveID          string       `json:"save_id"`
	Resumed         bool         `json:"resumed"`
	Package         string       `json:"package"`
	Location        string       `json:"location"`
	Packages        []PackageRef `json:"packages"`
}

type PackageRef struct {
	PackageID  string `json:"package_id"`
	Title      string `json:"title,omitempty"`
	EntryPoint string `json:"entry_point"`
	Completed  bool   `json:"completed,omitempty"`
	Visited    bool   `json:"visited,omitempty"`
}

// TURN (client -> server)
type TurnMsg struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`
	Text string `json:"text"`
}

// NARRATION (server -> client)
type NarrationMsg struct {
	Type      string   `json:"type"`
	Ref       string   `json:"ref,omitempty"`
	Turn      uint64   `json:"turn"`
	Text      string   `json:"text"`
	Package   string   `json:"package"`
	Location  string   `json:"location"`
	Path      []string `json:"path,omitempty"`
	Rejected  string   `json:"rejected,omitempty"`
	Degraded  bool     `json:"degraded,omitempty"`
	Compacted int      `json:"compacted,omitempty"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type    string `json:"type"`
	Ref     string `json:"ref,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
