package market

import (
	"fmt"
	"strings"
)

// UnknownPairError 表示既无规范 ID 也无别名匹配的交易对。
type UnknownPairError struct {
	Name string
}

func (e *UnknownPairError) Error() string {
	return fmt.Sprintf("market: 未知交易对 %q", e.Name)
}

// Registry 以规范 ID 和别名索引交易对元数据，每轮整体重建。
type Registry struct {
	pairs []AssetPair
	index map[string]int
}

// NewRegistry 由交易所返回的交易对列表构建注册表。
// 同一 ID 重复出现时保留最后一次的数据。
func NewRegistry(pairs []AssetPair) *Registry {
	r := &Registry{
		pairs: make([]AssetPair, 0, len(pairs)),
		index: make(map[string]int, len(pairs)*3),
	}

	for _, pair := range pairs {
		if pair.ID == "" {
			continue
		}
		if idx, ok := r.index[pair.ID]; ok && r.pairs[idx].ID == pair.ID {
			r.pairs[idx] = pair
		} else {
			r.pairs = append(r.pairs, pair)
			idx = len(r.pairs) - 1
			r.index[pair.ID] = idx
		}
	}

	// 别名及其大写形式不得覆盖其它交易对的规范 ID。
	canonical := make(map[string]int, len(r.pairs))
	for idx, pair := range r.pairs {
		canonical[pair.ID] = idx
	}
	claim := func(key string, idx int) {
		if owner, ok := canonical[key]; ok && owner != idx {
			return
		}
		r.index[key] = idx
	}
	for idx, pair := range r.pairs {
		claim(strings.ToUpper(pair.ID), idx)
		for _, alias := range pair.Aliases() {
			claim(alias, idx)
			claim(strings.ToUpper(alias), idx)
		}
	}

	return r
}

// Resolve 通过规范 ID 或别名查找交易对。
func (r *Registry) Resolve(name string) (AssetPair, error) {
	if r == nil {
		return AssetPair{}, &UnknownPairError{Name: name}
	}
	key := strings.TrimSpace(name)
	if idx, ok := r.index[key]; ok {
		return r.pairs[idx], nil
	}
	if idx, ok := r.index[strings.ToUpper(key)]; ok {
		return r.pairs[idx], nil
	}
	return AssetPair{}, &UnknownPairError{Name: name}
}

// Len 返回交易对数量（不含别名）。
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.pairs)
}
