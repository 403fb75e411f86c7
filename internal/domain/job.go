package domain

// JobKind — тип задания в очереди.
type JobKind string

const (
	// JobKindAddRequest — задание оркестратору: собрать index image для запроса.
	JobKindAddRequest JobKind = "request.add"

	// JobKindBuildArch — задание воркеру: собрать образ для одной архитектуры.
	JobKindBuildArch JobKind = "build.arch"
)

// AddRequestJob — задание оркестратору.
//
// Публикуется API после создания Request в состоянии queued.
type AddRequestJob struct {
	RequestID   int64    `json:"request_id"`
	Bundles     []string `json:"bundles"`
	BinaryImage string   `json:"binary_image"`
	FromIndex   string   `json:"from_index,omitempty"`
	AddArches   []string `json:"add_arches,omitempty"`
}

// Kind возвращает тип задания.
func (AddRequestJob) Kind() JobKind {
	return JobKindAddRequest
}

// AddRequestJobFrom строит задание оркестратору из запроса.
func AddRequestJobFrom(r *Request) AddRequestJob {
	return AddRequestJob{
		RequestID:   r.ID,
		Bundles:     r.Bundles,
		BinaryImage: r.BinaryImage,
		FromIndex:   r.FromIndex,
		AddArches:   r.AddArches,
	}
}

// BuildJob — задание на сборку index image для одной архитектуры.
//
// Архитектура не передаётся: она определяется очередью, в которую
// маршрутизировано задание. После публикации задание не меняется.
type BuildJob struct {
	// Bundles — ссылки по тегу: opm отказывается работать с bundle по digest.
	Bundles             []string `json:"bundles"`
	BinaryImageResolved string   `json:"binary_image_resolved"`
	FromIndexResolved   string   `json:"from_index_resolved,omitempty"`
	RequestID           int64    `json:"request_id"`
}

// Kind возвращает тип задания.
func (BuildJob) Kind() JobKind {
	return JobKindBuildArch
}

// ManifestEntry — запись manifest list: архитектура и её single-arch pull spec.
type ManifestEntry struct {
	Arch     string
	PullSpec string
}
