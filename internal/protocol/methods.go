// Пакет protocol — закрытые перечисления методов протокола синхронизации.
// Строковые имена методов из URL разбираются один раз на границе
// маршрутизации; ниже неё диспетчеризация идёт только по enum-значениям.
package protocol

import (
	"errors"
	"fmt"
)

// ErrUnknownMethod — имя метода не входит в закрытый список протокола.
var ErrUnknownMethod = errors.New("неизвестный метод")

// SyncMethod — метод синхронизации коллекции (/sync/{method}).
type SyncMethod int

const (
	SyncHostKey SyncMethod = iota
	SyncMeta
	SyncStart
	SyncApplyGraves
	SyncApplyChanges
	SyncChunk
	SyncApplyChunk
	SyncSanityCheck
	SyncFinish
	SyncAbort
	SyncFullUpload
	SyncFullDownload
)

// syncMethodNames — имена методов на проводе (wire protocol).
var syncMethodNames = map[string]SyncMethod{
	"hostKey":      SyncHostKey,
	"meta":         SyncMeta,
	"start":        SyncStart,
	"applyGraves":  SyncApplyGraves,
	"applyChanges": SyncApplyChanges,
	"chunk":        SyncChunk,
	"applyChunk":   SyncApplyChunk,
	"sanityCheck2": SyncSanityCheck,
	"finish":       SyncFinish,
	"abort":        SyncAbort,
	"upload":       SyncFullUpload,
	"download":     SyncFullDownload,
}

// ParseSyncMethod разбирает имя метода коллекционной синхронизации.
// Возвращает ошибку для неизвестного имени.
func ParseSyncMethod(name string) (SyncMethod, error) {
	m, ok := syncMethodNames[name]
	if !ok {
		return 0, fmt.Errorf("%w синхронизации: %q", ErrUnknownMethod, name)
	}
	return m, nil
}

// String возвращает имя метода на проводе.
func (m SyncMethod) String() string {
	for name, v := range syncMethodNames {
		if v == m {
			return name
		}
	}
	return fmt.Sprintf("SyncMethod(%d)", int(m))
}

// MediaMethod — метод синхронизации медиафайлов (/msync/{method}).
type MediaMethod int

const (
	MediaBegin MediaMethod = iota
	MediaChanges
	MediaUploadChanges
	MediaDownloadFiles
	MediaSanity
)

var mediaMethodNames = map[string]MediaMethod{
	"begin":         MediaBegin,
	"mediaChanges":  MediaChanges,
	"uploadChanges": MediaUploadChanges,
	"downloadFiles": MediaDownloadFiles,
	"mediaSanity":   MediaSanity,
}

// ParseMediaMethod разбирает имя метода медиасинхронизации.
func ParseMediaMethod(name string) (MediaMethod, error) {
	m, ok := mediaMethodNames[name]
	if !ok {
		return 0, fmt.Errorf("%w медиасинхронизации: %q", ErrUnknownMethod, name)
	}
	return m, nil
}

// String возвращает имя метода на проводе.
func (m MediaMethod) String() string {
	for name, v := range mediaMethodNames {
		if v == m {
			return name
		}
	}
	return fmt.Sprintf("MediaMethod(%d)", int(m))
}
