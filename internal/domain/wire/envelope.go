package wire

import (
	"encoding/json"
	"fmt"
)

// ErrorCode OCPP错误代码
type ErrorCode string

const (
	// ErrFormationViolation 消息格式或载荷不合法
	ErrFormationViolation ErrorCode = "FormationViolation"
	// ErrNotImplemented 动作未实现
	ErrNotImplemented ErrorCode = "NotImplemented"
	// ErrInternalError 服务端内部处理失败
	ErrInternalError ErrorCode = "InternalError"
)

// Frame 解码后的OCPP数组帧
type Frame struct {
	MessageType      int
	MessageID        string
	Action           string
	Payload          json.RawMessage
	ErrorCode        ErrorCode
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// IsCall 是否为请求帧
func (f *Frame) IsCall() bool { return f.MessageType == 2 }

// IsCallResult 是否为响应帧
func (f *Frame) IsCallResult() bool { return f.MessageType == 3 }

// IsCallError 是否为错误帧
func (f *Frame) IsCallError() bool { return f.MessageType == 4 }

// CodecError 编解码错误
// MessageID在解码时若已成功提取则携带原始消息ID，供回复错误帧使用。
type CodecError struct {
	Operation string
	Message   string
	MessageID string
	Cause     error
}

// Error 实现error接口
func (e CodecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s failed: %s (caused by: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// EncodeCall 编码请求帧 [2, messageId, action, payload]
func EncodeCall(messageID string, action string, payload interface{}) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal([]interface{}{2, messageID, action, payload})
	if err != nil {
		return nil, CodecError{Operation: "EncodeCall", Message: "Failed to marshal frame", Cause: err}
	}
	return data, nil
}

// EncodeCallResult 编码响应帧 [3, messageId, payload]
func EncodeCallResult(messageID string, payload interface{}) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal([]interface{}{3, messageID, payload})
	if err != nil {
		return nil, CodecError{Operation: "EncodeCallResult", Message: "Failed to marshal frame", Cause: err}
	}
	return data, nil
}

// EncodeCallError 编码错误帧 [4, messageId, errorCode, errorDescription, errorDetails]
func EncodeCallError(messageID string, code ErrorCode, description string) ([]byte, error) {
	data, err := json.Marshal([]interface{}{4, messageID, string(code), description, struct{}{}})
	if err != nil {
		return nil, CodecError{Operation: "EncodeCallError", Message: "Failed to marshal frame", Cause: err}
	}
	return data, nil
}

// Decode 解码OCPP数组帧，区分请求、响应和错误三种形态
func Decode(data []byte) (*Frame, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, CodecError{Operation: "Decode", Message: "Failed to unmarshal JSON array", Cause: err}
	}

	if len(elements) < 3 {
		return nil, CodecError{Operation: "Decode", Message: "Message array too short"}
	}

	frame := &Frame{}
	if err := json.Unmarshal(elements[0], &frame.MessageType); err != nil {
		return nil, CodecError{Operation: "Decode", Message: "Failed to parse message type", Cause: err}
	}
	if err := json.Unmarshal(elements[1], &frame.MessageID); err != nil {
		return nil, CodecError{Operation: "Decode", Message: "Failed to parse message ID", Cause: err}
	}
	if frame.MessageID == "" {
		return nil, CodecError{Operation: "Decode", Message: "Empty message ID"}
	}

	switch frame.MessageType {
	case 2:
		if len(elements) != 4 {
			return nil, CodecError{Operation: "Decode", MessageID: frame.MessageID, Message: "Call message must have exactly 4 elements"}
		}
		if err := json.Unmarshal(elements[2], &frame.Action); err != nil {
			return nil, CodecError{Operation: "Decode", MessageID: frame.MessageID, Message: "Failed to parse action", Cause: err}
		}
		frame.Payload = elements[3]
		return frame, nil

	case 3:
		if len(elements) != 3 {
			return nil, CodecError{Operation: "Decode", MessageID: frame.MessageID, Message: "CallResult message must have exactly 3 elements"}
		}
		frame.Payload = elements[2]
		return frame, nil

	case 4:
		if len(elements) < 4 || len(elements) > 5 {
			return nil, CodecError{Operation: "Decode", MessageID: frame.MessageID, Message: "CallError message must have 4 or 5 elements"}
		}
		var code string
		if err := json.Unmarshal(elements[2], &code); err != nil {
			return nil, CodecError{Operation: "Decode", MessageID: frame.MessageID, Message: "Failed to parse error code", Cause: err}
		}
		frame.ErrorCode = ErrorCode(code)
		if err := json.Unmarshal(elements[3], &frame.ErrorDescription); err != nil {
			return nil, CodecError{Operation: "Decode", MessageID: frame.MessageID, Message: "Failed to parse error description", Cause: err}
		}
		if len(elements) == 5 {
			frame.ErrorDetails = elements[4]
		}
		return frame, nil

	default:
		return nil, CodecError{Operation: "Decode", MessageID: frame.MessageID, Message: fmt.Sprintf("Invalid message type: %d", frame.MessageType)}
	}
}

// DecodePayload 将帧载荷反序列化到目标类型
func DecodePayload(payload json.RawMessage, target interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return CodecError{Operation: "DecodePayload", Message: "Failed to unmarshal payload", Cause: err}
	}
	return nil
}
