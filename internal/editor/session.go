// Package editor は1ページ分の注釈編集セッションを提供します。
package editor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/statekit"

	"github.com/ChonangRai/tool-factory/internal/pdf"
)

// Tool はジェスチャーで使う描画ツールです。
type Tool string

const (
	ToolText      Tool = "text"
	ToolRectangle Tool = "rectangle"
)

// BakeFunc は注釈を文書へ焼き込む関数です。pdf.Bake を渡します。
type BakeFunc func(ctx context.Context, document []byte, annotations []pdf.Annotation) ([]byte, error)

// Session は1つの項目に対する編集セッションです。ジェスチャーは逐次処理され、保存開始後は受け付けません。
type Session struct {
	mu        sync.Mutex
	id        string
	itemID    string
	document  []byte
	geometry  pdf.PageGeometry
	createdAt time.Time

	interp      *statekit.Interpreter[*machineContext]
	annotations []pdf.Annotation
	dragStart   pdf.Ratio
	preview     *pdf.RectangleAnnotation
}

// NewSession はセッションを開始します。document は項目の回転を反映済みの文書です。
func NewSession(id, itemID string, document []byte, geometry pdf.PageGeometry) (*Session, error) {
	machine, err := newSessionMachine(&machineContext{SessionID: id, ItemID: itemID})
	if err != nil {
		return nil, fmt.Errorf("編集セッションの初期化に失敗しました: %w", err)
	}
	interp := statekit.NewInterpreter(machine)
	interp.Start()

	return &Session{
		id:        id,
		itemID:    itemID,
		document:  document,
		geometry:  geometry,
		createdAt: time.Now(),
		interp:    interp,
	}, nil
}

// ID はセッションIDを返します。
func (s *Session) ID() string { return s.id }

// ItemID は編集対象の項目IDを返します。
func (s *Session) ItemID() string { return s.itemID }

// Document は編集対象の文書(背景描画用)を返します。
func (s *Session) Document() []byte { return s.document }

// Geometry は編集対象ページの寸法を返します。
func (s *Session) Geometry() pdf.PageGeometry { return s.geometry }

// State は現在の状態を返します。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

func (s *Session) state() State {
	return State(s.interp.State().Value)
}

func (s *Session) send(event statekit.EventType) {
	s.interp.Send(statekit.Event{Type: event})
}

func (s *Session) requireEditable() error {
	switch s.state() {
	case StateIdle, StateDrawing:
		return nil
	default:
		return pdf.NewInvalidOperation("この編集セッションは終了しています。")
	}
}

// BeginGesture はポインタ押下を処理します。矩形ツールはドラッグを開始し、テキストツールは即座に注釈を追加します。
// text が空のテキスト配置は入力キャンセルとみなして何もしません。
func (s *Session) BeginGesture(tool Tool, pos pdf.Ratio, text string, fontSize float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireEditable(); err != nil {
		return err
	}
	pos = pdf.ClampRatio(pos)

	switch tool {
	case ToolRectangle:
		if s.state() == StateDrawing {
			return pdf.NewInvalidOperation("矩形の描画中です。")
		}
		s.dragStart = pos
		preview := pdf.RectangleBetween(pos, pos)
		s.preview = &preview
		s.send(eventBeginDrag)
		return nil
	case ToolText:
		if s.state() == StateDrawing {
			return pdf.NewInvalidOperation("矩形の描画中です。")
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}
		if fontSize < 0 {
			return pdf.NewInvalidInput("文字サイズが不正です。")
		}
		s.annotations = append(s.annotations, pdf.TextAnnotation{Origin: pos, Content: text, FontSize: fontSize})
		return nil
	default:
		return pdf.NewInvalidInput(fmt.Sprintf("未対応のツールです: %s", tool))
	}
}

// UpdateGesture はドラッグ中のプレビュー矩形を更新します。ドラッグ中でなければ何もしません。
func (s *Session) UpdateGesture(pos pdf.Ratio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireEditable(); err != nil {
		return err
	}
	if s.state() != StateDrawing {
		return nil
	}
	preview := pdf.RectangleBetween(s.dragStart, pos)
	s.preview = &preview
	return nil
}

// EndGesture はドラッグを終了し、面積がある場合のみ矩形を確定します。
func (s *Session) EndGesture() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireEditable(); err != nil {
		return false, err
	}
	if s.state() != StateDrawing {
		return false, nil
	}
	preview := s.preview
	s.preview = nil
	s.send(eventEndDrag)

	if preview == nil || preview.Empty() {
		return false, nil
	}
	s.annotations = append(s.annotations, *preview)
	return true, nil
}

// Undo は最後に確定した注釈を取り除きます。空なら何もしません。
func (s *Session) Undo() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireEditable(); err != nil {
		return err
	}
	if n := len(s.annotations); n > 0 {
		s.annotations = s.annotations[:n-1]
	}
	return nil
}

// Annotations は確定済みの注釈を作成順に返します。
func (s *Session) Annotations() []pdf.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pdf.Annotation(nil), s.annotations...)
}

// Preview はドラッグ中のプレビュー矩形を返します。
func (s *Session) Preview() (pdf.RectangleAnnotation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preview == nil {
		return pdf.RectangleAnnotation{}, false
	}
	return *s.preview, true
}

// Save は注釈を焼き込んだ文書を返します。保存はセッションの最後の操作で、成否にかかわらずセッションは閉じます。
// ドラッグ中のプレビューは破棄されます。
func (s *Session) Save(ctx context.Context, bake BakeFunc) ([]byte, error) {
	s.mu.Lock()
	if err := s.requireEditable(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	annotations := append([]pdf.Annotation(nil), s.annotations...)
	s.preview = nil
	s.send(eventSave)
	s.mu.Unlock()

	out, err := bake(ctx, s.document, annotations)

	s.mu.Lock()
	s.annotations = nil
	if s.state() == StateSaving {
		s.send(eventSaved)
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close は注釈を破棄してセッションを終了します。何度呼んでも安全です。
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state() == StateClosed {
		return
	}
	s.annotations = nil
	s.preview = nil
	s.send(eventClose)
	s.interp.Stop()
}

// Snapshot はセッションの表示用の状態です。
type Snapshot struct {
	SessionID   string              `json:"sessionId"`
	ItemID      string              `json:"itemId"`
	State       State               `json:"state"`
	Page        pdf.Size            `json:"page"`
	Annotations []pdf.AnnotationDTO `json:"annotations"`
	Preview     *pdf.AnnotationDTO  `json:"preview,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// Snapshot は現在の状態を返します。
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionID:   s.id,
		ItemID:      s.itemID,
		State:       s.state(),
		Page:        s.geometry.DisplaySize(),
		Annotations: make([]pdf.AnnotationDTO, 0, len(s.annotations)),
		CreatedAt:   s.createdAt,
	}
	for _, a := range s.annotations {
		snap.Annotations = append(snap.Annotations, pdf.ToDTO(a))
	}
	if s.preview != nil {
		dto := pdf.ToDTO(*s.preview)
		snap.Preview = &dto
	}
	return snap
}
