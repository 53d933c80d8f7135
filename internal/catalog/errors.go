package catalog

import "fmt"

// ErrorKind はカタログ呼び出しの失敗種別。
type ErrorKind string

const (
	// ErrorKindTransport は接続・タイムアウトなど通信自体の失敗。
	ErrorKindTransport ErrorKind = "transport"
	// ErrorKindStatus はHTTPステータスが200以外の応答。
	ErrorKindStatus ErrorKind = "status"
	// ErrorKindAPI はエンベロープのcodeが200以外、またはdataが文字列の応答。
	ErrorKindAPI ErrorKind = "api"
	// ErrorKindDecode は応答ボディの読み取り・JSON解析の失敗。
	ErrorKindDecode ErrorKind = "decode"
)

// Error はカタログ呼び出しの失敗を表す。errors.As で種別を判定できる。
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("catalog %s error", e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}
