package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// KeyDelimiter — разделитель сегментов в канонической форме ключа.
const KeyDelimiter = "/"

// ErrEmptyKey — ключ без сегментов.
var ErrEmptyKey = errors.New("asset key must have at least one segment")

// AssetKey — иерархический ключ ассета: упорядоченная последовательность
// непустых сегментов. Равенство и хеширование структурные (посегментные);
// каноническая форма — сегменты, соединённые "/". Сегменты ограничены
// [A-Za-z0-9_.-], поэтому каноническая форма однозначна.
//
// Значение неизменяемо после создания и пригодно как ключ map.
type AssetKey struct {
	joined string
}

// NewAssetKey создаёт ключ из сегментов.
// Возвращает ошибку, если сегментов нет или какой-то из них невалиден.
func NewAssetKey(segments ...string) (AssetKey, error) {
	if len(segments) == 0 {
		return AssetKey{}, ErrEmptyKey
	}
	for _, seg := range segments {
		if err := validateSegment(seg); err != nil {
			return AssetKey{}, err
		}
	}
	return AssetKey{joined: strings.Join(segments, KeyDelimiter)}, nil
}

// ParseAssetKey разбирает каноническую форму "a/b/c" в ключ.
func ParseAssetKey(s string) (AssetKey, error) {
	if s == "" {
		return AssetKey{}, ErrEmptyKey
	}
	return NewAssetKey(strings.Split(s, KeyDelimiter)...)
}

// MustAssetKey разбирает каноническую форму и паникует при ошибке.
// Для констант и тестовых фикстур.
func MustAssetKey(s string) AssetKey {
	k, err := ParseAssetKey(s)
	if err != nil {
		panic(fmt.Sprintf("invalid asset key %q: %v", s, err))
	}
	return k
}

// validateSegment проверяет один сегмент ключа.
func validateSegment(seg string) error {
	if seg == "" {
		return errors.New("asset key segment must not be empty")
	}
	for _, r := range seg {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return fmt.Errorf("asset key segment %q contains invalid character %q", seg, r)
		}
	}
	return nil
}

// IsZero возвращает true для нулевого (несозданного) ключа.
func (k AssetKey) IsZero() bool {
	return k.joined == ""
}

// String возвращает каноническую форму ключа: сегменты через "/".
func (k AssetKey) String() string {
	return k.joined
}

// Segments возвращает копию сегментов ключа.
func (k AssetKey) Segments() []string {
	if k.joined == "" {
		return nil
	}
	return strings.Split(k.joined, KeyDelimiter)
}

// Leaf возвращает последний сегмент ключа.
// Используется для привязки входов по совпадению имени.
func (k AssetKey) Leaf() string {
	if k.joined == "" {
		return ""
	}
	if i := strings.LastIndex(k.joined, KeyDelimiter); i >= 0 {
		return k.joined[i+1:]
	}
	return k.joined
}

// Less задаёт детерминированный порядок ключей (по канонической форме).
func (k AssetKey) Less(other AssetKey) bool {
	return k.joined < other.joined
}

// MarshalText реализует encoding.TextMarshaler, поэтому ключ сериализуется
// в JSON как строка и работает как ключ JSON-объекта.
func (k AssetKey) MarshalText() ([]byte, error) {
	if k.IsZero() {
		return nil, ErrEmptyKey
	}
	return []byte(k.joined), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (k *AssetKey) UnmarshalText(text []byte) error {
	parsed, err := ParseAssetKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// SortKeys сортирует ключи по возрастанию канонической формы (in place)
// и возвращает тот же slice.
func SortKeys(keys []AssetKey) []AssetKey {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}
