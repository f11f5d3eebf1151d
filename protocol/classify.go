package protocol

// IsControl reports whether env is a control envelope with the given action.
func IsControl(env *Envelope, action ControlAction) bool {
	if env == nil || env.Type != TypeControl {
		return false
	}
	var p ControlPayload
	if err := env.Decode(&p); err != nil {
		return false
	}
	return p.Action == action
}

// IsReady reports whether env acknowledges initialization. Two variants are in
// use: control ready/session_info and system init.
func IsReady(env *Envelope) bool {
	_, ok := ReadySessionID(env)
	return ok
}

// ReadySessionID returns the session id carried by a readiness acknowledgement.
// The id may be empty when the service does not assign one.
func ReadySessionID(env *Envelope) (string, bool) {
	if env == nil {
		return "", false
	}
	switch env.Type {
	case TypeControl:
		var p ControlPayload
		if err := env.Decode(&p); err != nil {
			return "", false
		}
		if p.Action != ActionReady && p.Action != ActionSessionInfo {
			return "", false
		}
		if p.SessionID == "" && p.Data != nil {
			if id, ok := p.Data["sessionId"].(string); ok {
				return id, true
			}
		}
		return p.SessionID, true
	case TypeSystem:
		var p SystemPayload
		if err := env.Decode(&p); err != nil {
			return "", false
		}
		if p.Subtype != SystemSubtypeInit {
			return "", false
		}
		return p.SessionID, true
	}
	return "", false
}

// IsTerminal reports whether env ends a turn: a result, or an error
// reported in place of one.
func IsTerminal(env *Envelope) bool {
	return env != nil && (env.Type == TypeResult || env.Type == TypeError)
}

// IsToolCall reports whether env is a tool_call.
func IsToolCall(env *Envelope) bool {
	return env != nil && env.Type == TypeToolCall
}

// IsError reports whether env is an error envelope.
func IsError(env *Envelope) bool {
	return env != nil && env.Type == TypeError
}

// IsPong reports whether env is a keepalive reply.
func IsPong(env *Envelope) bool {
	return env != nil && env.Type == TypePong
}
