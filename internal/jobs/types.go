package jobs

const TaskWarmFetch = "cache:warm_fetch"

type WarmFetchPayload struct {
	CacheKey string `json:"cache_key"`
	URL      string `json:"url"`
}
