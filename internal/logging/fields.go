package logging

import (
	"time"

	"github.com/felixgeelhaar/bolt/v3"
)

// Field はログイベントへ構造化データを付与する関数です。
type Field func(*bolt.Event) *bolt.Event

// Apply は複数の Field をイベントへ順に適用します。
func Apply(e *bolt.Event, fields ...Field) *bolt.Event {
	for _, f := range fields {
		if f != nil {
			e = f(e)
		}
	}
	return e
}

// WorkspaceID は作業セットIDを付与します。
func WorkspaceID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("workspace_id", id)
	}
}

// ItemID は項目IDを付与します。
func ItemID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("item_id", id)
	}
}

// JobID はジョブIDを付与します。
func JobID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("job_id", id)
	}
}

// SessionID は編集セッションIDを付与します。
func SessionID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("session_id", id)
	}
}

// Operation は操作名を付与します。
func Operation(op string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("operation", op)
	}
}

// Component はコンポーネント名を付与します。
func Component(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("component", name)
	}
}

// Count は件数を付与します。
func Count(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("count", n)
	}
}

// Bytes はバイト数を付与します。
func Bytes(n int64) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("bytes", n)
	}
}

// Duration は所要時間をミリ秒で付与します。
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

// ErrorField はエラーを付与します。nil のときは何もしません。
func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}

// Str は任意のキーで文字列を付与します。
func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, value)
	}
}

// Int は任意のキーで整数を付与します。
func Int(key string, value int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int(key, value)
	}
}
