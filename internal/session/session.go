// Пакет session — учёт сессий синхронизации.
//
// Сессия связывает ключ аутентификации (host key) с пользователем и его
// каталогом данных. Ключ сессии (skey) короткоживущий: он выдаётся в
// начале цикла медиасинхронизации и предъявляется последующими
// запросами вместо ключа аутентификации.
package session

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session — активная сессия синхронизации.
type Session struct {
	// HostKey — долгоживущий ключ аутентификации
	HostKey string
	// SessionKey — короткий ключ цикла медиасинхронизации
	SessionKey string
	// Username — владелец сессии
	Username string
	// Path — каталог данных пользователя
	Path string
}

// New создаёт сессию с новым ключом сессии.
func New(hostKey, username, path string) *Session {
	return &Session{
		HostKey:    hostKey,
		SessionKey: newSessionKey(),
		Username:   username,
		Path:       path,
	}
}

// newSessionKey возвращает восемь младших шестнадцатеричных символов
// SHA-256 от случайного значения. Формат зафиксирован протоколом:
// клиенты передают ключ как есть.
func newSessionKey() string {
	sum := sha256.Sum256([]byte(uuid.NewString()))
	hexSum := hex.EncodeToString(sum[:])
	return hexSum[len(hexSum)-8:]
}

// alnum — алфавит случайного хвоста ключа аутентификации.
const alnum = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewHostKey возвращает новый ключ аутентификации для пользователя:
// MD5 от строки "имя:unix-время:случайный-хвост" в шестнадцатеричной
// записи. MD5 здесь не защищает секрет, а лишь даёт непредсказуемый
// идентификатор фиксированной длины.
func NewHostKey(username string) (string, error) {
	tail := make([]byte, 8)
	if _, err := rand.Read(tail); err != nil {
		return "", fmt.Errorf("ошибка генерации случайного хвоста: %w", err)
	}
	for i, b := range tail {
		tail[i] = alnum[int(b)%len(alnum)]
	}

	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d:%s", username, time.Now().Unix(), tail)))
	return hex.EncodeToString(sum[:]), nil
}
