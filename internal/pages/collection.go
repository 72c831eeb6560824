// Package pages は作業中のページ項目の順序付きリストを管理します。
package pages

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ChonangRai/tool-factory/internal/pdf"
)

// Item は作業セットの1項目です。Document は作成後に書き換えられません。
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Document []byte `json:"-"`
	Rotation int    `json:"rotation"`
	Order    int    `json:"order"`
	Pages    int    `json:"pages"`
	Size     int    `json:"size"`
}

// Source は結合・アーカイブ用の入力へ変換します。
func (it Item) Source() pdf.Source {
	return pdf.Source{ID: it.ID, Name: it.Name, Document: it.Document, Rotation: it.Rotation}
}

// NewItem は追加する文書です。
type NewItem struct {
	Name     string
	Document []byte
	Pages    int
}

// Collection はページ項目のリストです。すべての変更はミューテックスで直列化されます。
type Collection struct {
	mu    sync.Mutex
	items []Item
	newID func() string
}

// NewCollection は空のリストを生成します。
func NewCollection() *Collection {
	return &Collection{newID: uuid.NewString}
}

// Add は文書ごとに回転0の項目を末尾に追加し、追加した項目を返します。
func (c *Collection) Add(docs ...NewItem) []Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := make([]Item, 0, len(docs))
	for _, d := range docs {
		it := c.newItem(d)
		it.Order = len(c.items)
		c.items = append(c.items, it)
		added = append(added, it)
	}
	return added
}

func (c *Collection) newItem(d NewItem) Item {
	return Item{
		ID:       c.newID(),
		Name:     d.Name,
		Document: d.Document,
		Pages:    d.Pages,
		Size:     len(d.Document),
	}
}

// Reorder は ids の順に並べ替えます。ids は現在のIDの順列でなければなりません。
func (c *Collection) Reorder(ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(ids) != len(c.items) {
		return pdf.NewInvalidOperation(fmt.Sprintf("並び順の件数が一致しません(%d件中%d件)。", len(c.items), len(ids)))
	}
	byID := make(map[string]Item, len(c.items))
	for _, it := range c.items {
		byID[it.ID] = it
	}
	reordered := make([]Item, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return pdf.NewInvalidOperation(fmt.Sprintf("ID %s が重複しています。", id))
		}
		seen[id] = struct{}{}
		it, ok := byID[id]
		if !ok {
			return pdf.NewInvalidOperation(fmt.Sprintf("ID %s は作業セットに存在しません。", id))
		}
		reordered = append(reordered, it)
	}
	c.items = reordered
	c.renumber()
	return nil
}

// Move は id の項目を index の位置へ移動します。index は範囲内に丸められます。
func (c *Collection) Move(id string, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.indexOf(id)
	if from < 0 {
		return pdf.NewNotFound(id)
	}
	if index < 0 {
		index = 0
	}
	if index > len(c.items)-1 {
		index = len(c.items) - 1
	}
	it := c.items[from]
	c.items = append(c.items[:from], c.items[from+1:]...)
	c.items = append(c.items[:index], append([]Item{it}, c.items[index:]...)...)
	c.renumber()
	return nil
}

// Rotate は回転を90度進めます。
func (c *Collection) Rotate(id string) (Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return Item{}, pdf.NewNotFound(id)
	}
	c.items[i].Rotation = pdf.NormalizeRotation(c.items[i].Rotation + 90)
	return c.items[i], nil
}

// Remove は項目を削除し、残りの順序を詰めます。
func (c *Collection) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return pdf.NewNotFound(id)
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.renumber()
	return nil
}

// Replace は注釈の焼き込み後に文書を差し替えます。baked は文書に反映済みの回転で、
// それ以降に加えられた回転だけが項目に残ります。
func (c *Collection) Replace(id string, document []byte, pageCount, baked int) (Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return Item{}, pdf.NewNotFound(id)
	}
	c.items[i].Document = document
	c.items[i].Size = len(document)
	c.items[i].Pages = pageCount
	c.items[i].Rotation = pdf.NormalizeRotation(c.items[i].Rotation - baked)
	return c.items[i], nil
}

// Expand は id の項目を parts に置き換えます。新しい項目は元の位置にページ順で挿入されます。
func (c *Collection) Expand(id string, parts []NewItem) ([]Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return nil, pdf.NewNotFound(id)
	}
	if len(parts) == 0 {
		return nil, pdf.NewInvalidOperation("置き換える項目がありません。")
	}
	created := make([]Item, len(parts))
	for j, p := range parts {
		created[j] = c.newItem(p)
	}
	rest := append([]Item{}, c.items[i+1:]...)
	c.items = append(append(c.items[:i], created...), rest...)
	c.renumber()
	return c.cloneRange(i, i+len(created)), nil
}

// Reset はすべての項目を削除します。
func (c *Collection) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
}

// Get は id の項目を返します。
func (c *Collection) Get(id string) (Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return Item{}, pdf.NewNotFound(id)
	}
	return c.items[i], nil
}

// Items は現在の項目のスナップショットを順序どおりに返します。
func (c *Collection) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cloneRange(0, len(c.items))
}

// Len は項目数を返します。
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Collection) indexOf(id string) int {
	for i, it := range c.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (c *Collection) renumber() {
	for i := range c.items {
		c.items[i].Order = i
	}
}

func (c *Collection) cloneRange(from, to int) []Item {
	out := make([]Item, to-from)
	copy(out, c.items[from:to])
	return out
}
