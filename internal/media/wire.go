// wire.go — JSON-конверты медиаопераций.
//
// Все медиаответы, кроме архива отдачи, заворачиваются в
// {"data":...,"err":""}; непустой err сигнализирует о сбое на сервере.
package media

// BeginData — полезная нагрузка ответа begin.
type BeginData struct {
	// SKey — ключ сессии для последующих медиазапросов
	SKey string `json:"sk"`
	// Usn — последний usn сервера
	Usn int `json:"usn"`
}

// BeginResult — конверт ответа begin.
type BeginResult struct {
	Data *BeginData `json:"data"`
	Err  string     `json:"err"`
}

// ChangesRequest — запрос mediaChanges.
type ChangesRequest struct {
	// LastUsn — последний usn, известный клиенту
	LastUsn int `json:"lastUsn"`
}

// ChangesResult — конверт ответа mediaChanges.
type ChangesResult struct {
	Data []Change `json:"data"`
	Err  string   `json:"err"`
}

// UploadResult — конверт ответа uploadChanges:
// [число обработанных записей, usn после пакета].
type UploadResult struct {
	Data [2]int `json:"data"`
	Err  string `json:"err"`
}

// DownloadRequest — запрос downloadFiles.
type DownloadRequest struct {
	Files []string `json:"files"`
}

// SanityRequest — запрос mediaSanity.
type SanityRequest struct {
	// Local — число медиафайлов на клиенте
	Local int `json:"local"`
}

// SanityResult — конверт ответа mediaSanity: "OK" или "FAILED".
type SanityResult struct {
	Data string `json:"data"`
	Err  string `json:"err"`
}

// Итоги mediaSanity.
const (
	SanityOK     = "OK"
	SanityFailed = "FAILED"
)
