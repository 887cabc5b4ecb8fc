package models

import "math"

// RecognitionRequest is the payload of the full client request that opens a
// recognition session.
type RecognitionRequest struct {
	User    UserInfo       `json:"user"`
	Audio   AudioFormat    `json:"audio"`
	Request RequestOptions `json:"request"`
}

// UserInfo identifies the caller. UID is a random per-session token.
type UserInfo struct {
	UID string `json:"uid"`
}

// AudioFormat describes the audio that follows in audio-only frames.
type AudioFormat struct {
	Format  string `json:"format"`
	Rate    int    `json:"rate"`
	Bits    int    `json:"bits"`
	Channel int    `json:"channel"`
	Codec   string `json:"codec"`
}

// RequestOptions are the recognition options.
type RequestOptions struct {
	ModelName      string `json:"model_name"`
	Language       string `json:"language,omitempty"`
	EnableITN      bool   `json:"enable_itn"`
	EnablePunc     bool   `json:"enable_punc"`
	ResultType     string `json:"result_type"`
	ShowUtterances bool   `json:"show_utterances"`
}

// ASRResponse is the payload of a full server response frame.
type ASRResponse struct {
	Result    *ASRResult `json:"result,omitempty"`
	AudioInfo *AudioInfo `json:"audio_info,omitempty"`
}

// ASRResult holds the recognized text so far.
type ASRResult struct {
	Text       string      `json:"text"`
	Utterances []Utterance `json:"utterances,omitempty"`
}

// Utterance is one recognized segment. Definite utterances will not be revised.
type Utterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

// AudioInfo reports how much audio the server has processed.
type AudioInfo struct {
	Duration int64 `json:"duration"`
}

// IsDefinite reports whether the first utterance of the result is definite.
func (r *ASRResult) IsDefinite() bool {
	return r != nil && len(r.Utterances) > 0 && r.Utterances[0].Definite
}

// ResponseFromFields builds a response from a decoded JSON object. It returns
// nil when there is no result object. Every other field is read on its own:
// a value with an unexpected type is left at its zero value instead of
// failing the whole response. Utterance order is preserved, so
// IsDefinite always looks at the first entry the server sent.
func ResponseFromFields(fields map[string]any) *ASRResponse {
	result, ok := fields["result"].(map[string]any)
	if !ok {
		return nil
	}

	resp := &ASRResponse{Result: &ASRResult{}}
	resp.Result.Text, _ = result["text"].(string)

	if items, ok := result["utterances"].([]any); ok {
		for _, item := range items {
			var u Utterance
			if m, ok := item.(map[string]any); ok {
				u.Text, _ = m["text"].(string)
				u.Definite, _ = m["definite"].(bool)
				u.StartTime, _ = millis(m["start_time"])
				u.EndTime, _ = millis(m["end_time"])
			}
			resp.Result.Utterances = append(resp.Result.Utterances, u)
		}
	}

	if info, ok := fields["audio_info"].(map[string]any); ok {
		if d, ok := millis(info["duration"]); ok {
			resp.AudioInfo = &AudioInfo{Duration: d}
		}
	}
	return resp
}

// millis reads a JSON number as whole milliseconds, truncating fractions.
func millis(v any) (int64, bool) {
	f, ok := v.(float64)
	if !ok || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}
