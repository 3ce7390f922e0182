package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/cowrite/cowrite/pkg/ot"
)

// UserInfo is a connected user's display information.
type UserInfo struct {
	Name string `json:"name"`
	Hue  uint32 `json:"hue"`
}

// CursorData is a user's cursor positions and selection ranges, in
// Unicode code-point offsets.
type CursorData struct {
	Cursors    []uint32    `json:"cursors"`
	Selections [][2]uint32 `json:"selections"`
}

// UserOperation pairs a log entry with the client id that produced it.
type UserOperation struct {
	ID        uint64           `json:"id"`
	Operation *ot.OperationSeq `json:"operation"`
}

// OTPRequest is the payload of the client's SetOTP message: a new
// secret, or nil to remove protection from the document.
type OTPRequest struct {
	OTP *string `json:"otp"`
}

// ClientMsg is an externally-tagged message from client to server.
// Exactly one field is populated per message.
type ClientMsg struct {
	Edit        *EditMsg    `json:"Edit,omitempty"`
	SetLanguage *string     `json:"SetLanguage,omitempty"`
	ClientInfo  *UserInfo   `json:"ClientInfo,omitempty"`
	CursorData  *CursorData `json:"CursorData,omitempty"`
	SetOTP      *OTPRequest `json:"SetOTP,omitempty"`
}

// EditMsg is a client's proposed edit, expressed against a base
// revision the server rebases it forward from if necessary.
type EditMsg struct {
	Revision  int              `json:"revision"`
	Operation *ot.OperationSeq `json:"operation"`
}

// ServerMsg is an externally-tagged message from server to client.
// Exactly one field is populated per message.
type ServerMsg struct {
	Identity   *uint64        `json:"Identity,omitempty"`
	History    *HistoryMsg    `json:"History,omitempty"`
	Language   *string        `json:"Language,omitempty"`
	UserInfo   *UserInfoMsg   `json:"UserInfo,omitempty"`
	UserCursor *UserCursorMsg `json:"UserCursor,omitempty"`
	OTP        *OTPMsg        `json:"OTP,omitempty"`
}

// HistoryMsg carries a contiguous run of the operation log, always
// starting at the revision the receiving client last observed.
type HistoryMsg struct {
	Start      int             `json:"start"`
	Operations []UserOperation `json:"operations"`
}

// UserInfoMsg broadcasts a connection or disconnection. Info is nil on
// disconnect (a tombstone).
type UserInfoMsg struct {
	ID   uint64    `json:"id"`
	Info *UserInfo `json:"info,omitempty"`
}

// UserCursorMsg broadcasts one user's cursor/selection state.
type UserCursorMsg struct {
	ID   uint64     `json:"id"`
	Data CursorData `json:"data"`
}

// OTPMsg broadcasts a change to a document's protection secret,
// attributing the change to the user who made it. OTP is nil when
// protection has been removed.
type OTPMsg struct {
	OTP      *string `json:"otp"`
	UserID   uint64  `json:"user_id"`
	UserName string  `json:"user_name"`
}

// MarshalJSON renders the externally-tagged form, emitting only the
// populated field.
func (m *ServerMsg) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{}, 1)
	switch {
	case m.Identity != nil:
		result["Identity"] = *m.Identity
	case m.History != nil:
		result["History"] = m.History
	case m.Language != nil:
		result["Language"] = *m.Language
	case m.UserInfo != nil:
		result["UserInfo"] = m.UserInfo
	case m.UserCursor != nil:
		result["UserCursor"] = m.UserCursor
	case m.OTP != nil:
		result["OTP"] = m.OTP
	}
	return json.Marshal(result)
}

// UnmarshalJSON parses the externally-tagged client message form.
func (m *ClientMsg) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("protocol: decode client message: %w", err)
	}

	if v, ok := raw["Edit"]; ok {
		var edit EditMsg
		if err := json.Unmarshal(v, &edit); err != nil {
			return fmt.Errorf("protocol: decode Edit: %w", err)
		}
		m.Edit = &edit
	}
	if v, ok := raw["SetLanguage"]; ok {
		var lang string
		if err := json.Unmarshal(v, &lang); err != nil {
			return fmt.Errorf("protocol: decode SetLanguage: %w", err)
		}
		m.SetLanguage = &lang
	}
	if v, ok := raw["ClientInfo"]; ok {
		var info UserInfo
		if err := json.Unmarshal(v, &info); err != nil {
			return fmt.Errorf("protocol: decode ClientInfo: %w", err)
		}
		m.ClientInfo = &info
	}
	if v, ok := raw["CursorData"]; ok {
		var cursor CursorData
		if err := json.Unmarshal(v, &cursor); err != nil {
			return fmt.Errorf("protocol: decode CursorData: %w", err)
		}
		m.CursorData = &cursor
	}
	if v, ok := raw["SetOTP"]; ok {
		var req OTPRequest
		if err := json.Unmarshal(v, &req); err != nil {
			return fmt.Errorf("protocol: decode SetOTP: %w", err)
		}
		m.SetOTP = &req
	}

	return nil
}

// Constructors for server messages, one per tag.

func NewIdentityMsg(id uint64) *ServerMsg {
	return &ServerMsg{Identity: &id}
}

func NewHistoryMsg(start int, ops []UserOperation) *ServerMsg {
	if ops == nil {
		ops = []UserOperation{}
	}
	return &ServerMsg{History: &HistoryMsg{Start: start, Operations: ops}}
}

func NewLanguageMsg(lang string) *ServerMsg {
	return &ServerMsg{Language: &lang}
}

func NewUserInfoMsg(id uint64, info *UserInfo) *ServerMsg {
	return &ServerMsg{UserInfo: &UserInfoMsg{ID: id, Info: info}}
}

func NewUserCursorMsg(id uint64, data CursorData) *ServerMsg {
	return &ServerMsg{UserCursor: &UserCursorMsg{ID: id, Data: data}}
}

func NewOTPMsg(otp *string, userID uint64, userName string) *ServerMsg {
	return &ServerMsg{OTP: &OTPMsg{OTP: otp, UserID: userID, UserName: userName}}
}
