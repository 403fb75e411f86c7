package domain

import (
	"sort"
	"strings"
)

// ArchSet — множество идентификаторов архитектур (amd64, s390x, ...).
type ArchSet map[string]struct{}

// NewArchSet создаёт множество из списка архитектур. Пустые строки пропускаются.
func NewArchSet(arches ...string) ArchSet {
	s := make(ArchSet, len(arches))
	for _, arch := range arches {
		arch = strings.TrimSpace(arch)
		if arch == "" {
			continue
		}
		s[arch] = struct{}{}
	}
	return s
}

// Add добавляет архитектуру.
func (s ArchSet) Add(arch string) {
	s[arch] = struct{}{}
}

// Has проверяет наличие архитектуры.
func (s ArchSet) Has(arch string) bool {
	_, ok := s[arch]
	return ok
}

// Len возвращает размер множества.
func (s ArchSet) Len() int {
	return len(s)
}

// Clone возвращает копию множества.
func (s ArchSet) Clone() ArchSet {
	return s.Union(nil)
}

// Union возвращает s ∪ other.
func (s ArchSet) Union(other ArchSet) ArchSet {
	result := make(ArchSet, len(s)+len(other))
	for arch := range s {
		result[arch] = struct{}{}
	}
	for arch := range other {
		result[arch] = struct{}{}
	}
	return result
}

// Minus возвращает s \ other.
func (s ArchSet) Minus(other ArchSet) ArchSet {
	result := make(ArchSet, len(s))
	for arch := range s {
		if !other.Has(arch) {
			result[arch] = struct{}{}
		}
	}
	return result
}

// IsSubsetOf проверяет s ⊆ other.
func (s ArchSet) IsSubsetOf(other ArchSet) bool {
	for arch := range s {
		if !other.Has(arch) {
			return false
		}
	}
	return true
}

// Sorted возвращает архитектуры в отсортированном порядке.
func (s ArchSet) Sorted() []string {
	arches := make([]string, 0, len(s))
	for arch := range s {
		arches = append(arches, arch)
	}
	sort.Strings(arches)
	return arches
}

// String — отсортированный список через ", " (для логов и причин состояния).
func (s ArchSet) String() string {
	return strings.Join(s.Sorted(), ", ")
}
