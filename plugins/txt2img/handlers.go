package txt2img

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/InsulaLabs/txt2img/internal/provider"
	"github.com/InsulaLabs/txt2img/tools"
	"github.com/invopop/jsonschema"
)

const maxParamsSize = 1 << 20

// Frame is one line of an invoke response or one websocket frame. Exactly
// one of the fields is set.
type Frame struct {
	Message *tools.Message `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type ToolInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Schema      *jsonschema.Schema `json:"schema"`
}

type ValidateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeParams reads a parameter mapping. Numbers are kept as json.Number so
// integer parameters survive intact. An empty body is an empty mapping.
func decodeParams(data []byte) (tools.Params, error) {
	params := tools.Params{}
	if len(bytes.TrimSpace(data)) == 0 {
		return params, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *Txt2ImgPlugin) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	list := p.registry.List()
	out := make([]ToolInfo, 0, len(list))
	for _, t := range list {
		out = append(out, ToolInfo{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (p *Txt2ImgPlugin) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("tool")
	err := p.Validate(r.Context(), name, p.prif.RT_Credentials())
	if err == nil {
		writeJSON(w, http.StatusOK, ValidateResponse{Valid: true})
		return
	}

	var unknown *tools.ErrUnknownTool
	if errors.As(err, &unknown) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var credErr *provider.CredentialValidationError
	if errors.As(err, &credErr) {
		writeJSON(w, http.StatusOK, ValidateResponse{Valid: false, Error: err.Error()})
		return
	}
	p.logger.Error("credential validation errored", "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (p *Txt2ImgPlugin) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("tool")
	if _, err := p.registry.Get(name); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxParamsSize))
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}
	params, err := decodeParams(body)
	if err != nil {
		http.Error(w, "Invalid parameter mapping: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	write := func(f Frame) error {
		if err := enc.Encode(f); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	err = p.Invoke(r.Context(), name, params, func(m tools.Message) error {
		return write(Frame{Message: &m})
	})
	if err != nil {
		_ = write(Frame{Error: err.Error()})
	}
}
