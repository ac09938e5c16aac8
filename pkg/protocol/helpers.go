package protocol

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewStartMessage creates a start-recording message
func NewStartMessage(sampleRate int) (*Message, error) {
	return NewMessage(TypeStart, StartData{SampleRate: sampleRate})
}

// NewStopMessage creates a stop-recording message
func NewStopMessage(discard bool) (*Message, error) {
	return NewMessage(TypeStop, StopData{Discard: discard})
}

// NewTranscriptMessage creates a finalized transcript message
func NewTranscriptMessage(text string) (*Message, error) {
	return NewMessage(TypeTranscript, TranscriptData{Text: text})
}

// NewAssistantTextMessage creates a sentence announcement message
func NewAssistantTextMessage(text string, sentence int) (*Message, error) {
	return NewMessage(TypeAssistantText, AssistantTextData{Text: text, Sentence: sentence})
}

// NewToolNoticeMessage creates a tool dispatch notice
func NewToolNoticeMessage(name string, rejected bool) (*Message, error) {
	return NewMessage(TypeToolNotice, ToolNoticeData{Name: name, Rejected: rejected})
}

// NewErrorMessage creates an error notice
func NewErrorMessage(code, message string, fatal bool) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Code: code, Message: message, Fatal: fatal})
}

// NewEndOfTurnMessage creates an end-of-turn marker
func NewEndOfTurnMessage(sentences int, cancelled bool) (*Message, error) {
	return NewMessage(TypeEndOfTurn, EndOfTurnData{Sentences: sentences, Cancelled: cancelled})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetStartData extracts start data from a message
func (m *Message) GetStartData() (*StartData, error) {
	var data StartData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStopData extracts stop data from a message
func (m *Message) GetStopData() (*StopData, error) {
	var data StopData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetTranscriptData extracts transcript data from a message
func (m *Message) GetTranscriptData() (*TranscriptData, error) {
	var data TranscriptData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetAssistantTextData extracts assistant text from a message
func (m *Message) GetAssistantTextData() (*AssistantTextData, error) {
	var data AssistantTextData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetToolNoticeData extracts a tool notice from a message
func (m *Message) GetToolNoticeData() (*ToolNoticeData, error) {
	var data ToolNoticeData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts error data from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetEndOfTurnData extracts end-of-turn data from a message
func (m *Message) GetEndOfTurnData() (*EndOfTurnData, error) {
	var data EndOfTurnData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
