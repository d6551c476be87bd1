package chronicle

// State is the persisted chronicle and window.
type State struct {
	Entries []Entry `json:"entries"`
	Window  []Turn  `json:"window"`
	LastSeq uint64  `json:"last_seq"`
}

func (c *Compressor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{LastSeq: c.lastSeq}
	st.Entries = append([]Entry(nil), c.entries...)
	st.Window = append([]Turn(nil), c.window...)
	return st
}

func (c *Compressor) Restore(st State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append([]Entry(nil), st.Entries...)
	c.window = append([]Turn(nil), st.Window...)
	c.lastSeq = st.LastSeq
	for _, t := range c.window {
		if t.Seq > c.lastSeq {
			c.lastSeq = t.Seq
		}
	}
}

// LastSeq is the sequence number of the newest appended turn.
func (c *Compressor) LastSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}
