package factory

import (
	"context"

	"github.com/ChonangRai/tool-factory/internal/editor"
	"github.com/ChonangRai/tool-factory/internal/logging"
	"github.com/ChonangRai/tool-factory/internal/pages"
	"github.com/ChonangRai/tool-factory/internal/pdf"
)

// OpenEditor は項目の編集セッションを開始します。セッションは回転を反映した文書のコピーで作業します。
// 編集中に項目が回転された場合、その回転は保存後も項目に残ります。
func (f *Factory) OpenEditor(ctx context.Context, itemID string) (*editor.Session, error) {
	item, err := f.items.Get(itemID)
	if err != nil {
		return nil, err
	}
	doc, err := pdf.BakeRotation(ctx, item.Document, item.Rotation)
	if err != nil {
		return nil, withItemID(err, itemID)
	}
	info, err := pdf.Inspect(ctx, doc)
	if err != nil {
		return nil, withItemID(err, itemID)
	}

	s, err := editor.NewSession(f.newID(), itemID, doc, info.FirstPage)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.editors[s.ID()] = &openEditor{session: s, rotation: item.Rotation}
	f.mu.Unlock()

	logging.Apply(f.logger.Debug(), logging.Operation("editor.open"), logging.ItemID(itemID),
		logging.SessionID(s.ID())).Msg("editor session opened")
	return s, nil
}

// Editor は編集セッションを返します。
func (f *Factory) Editor(sessionID string) (*editor.Session, error) {
	e, err := f.openEditor(sessionID)
	if err != nil {
		return nil, err
	}
	return e.session, nil
}

func (f *Factory) openEditor(sessionID string) (*openEditor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.editors[sessionID]
	if !ok {
		return nil, pdf.NewError(pdf.CodeNotFound, "編集セッションが見つかりません。", nil)
	}
	return e, nil
}

// EditorBackground は編集セッションの背景となるページを描画します。zoom が0なら既定倍率です。
func (f *Factory) EditorBackground(ctx context.Context, sessionID string, zoom float64) (*pdf.Raster, error) {
	s, err := f.Editor(sessionID)
	if err != nil {
		return nil, err
	}
	if zoom == 0 {
		zoom = f.opts.EditorZoom
	}
	raster, err := f.render(ctx, s.Document(), zoom)
	if err != nil {
		return nil, withItemID(err, s.ItemID())
	}
	return raster, nil
}

// SaveEditor は注釈を焼き込み、項目の文書を置き換えます。保存は成否にかかわらずセッションを終了し、
// 失敗した場合は元の項目を変更しません。
func (f *Factory) SaveEditor(ctx context.Context, sessionID string) (pages.Item, error) {
	e, err := f.openEditor(sessionID)
	if err != nil {
		return pages.Item{}, err
	}
	defer f.dropEditor(sessionID)
	s := e.session

	baked, err := s.Save(ctx, pdf.Bake)
	if err != nil {
		return pages.Item{}, withItemID(err, s.ItemID())
	}
	info, err := pdf.Inspect(ctx, baked)
	if err != nil {
		return pages.Item{}, withItemID(err, s.ItemID())
	}
	item, err := f.items.Replace(s.ItemID(), baked, info.Pages, e.rotation)
	if err != nil {
		return pages.Item{}, err
	}
	logging.Apply(f.logger.Info(), logging.Operation("editor.save"), logging.ItemID(item.ID),
		logging.SessionID(sessionID)).Msg("annotations saved")
	return item, nil
}

// CloseEditor は注釈を破棄してセッションを終了します。
func (f *Factory) CloseEditor(sessionID string) error {
	s, err := f.Editor(sessionID)
	if err != nil {
		return err
	}
	s.Close()
	f.dropEditor(sessionID)
	return nil
}

func (f *Factory) dropEditor(sessionID string) {
	f.mu.Lock()
	delete(f.editors, sessionID)
	f.mu.Unlock()
}

func (f *Factory) closeEditors(match func(*editor.Session) bool) {
	f.mu.Lock()
	var closing []*editor.Session
	for id, e := range f.editors {
		if match(e.session) {
			closing = append(closing, e.session)
			delete(f.editors, id)
		}
	}
	f.mu.Unlock()

	for _, s := range closing {
		s.Close()
	}
}

func withItemID(err error, itemID string) error {
	if pe, ok := pdf.AsError(err); ok && pe.ItemID == "" {
		pe.ItemID = itemID
	}
	return err
}
