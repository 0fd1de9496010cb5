package narrative

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// DefaultSystemPrompt is used when no prompt file is configured.
const DefaultSystemPrompt = `Eres un medico redactando la historia clinica de una visita de un ensayo clinico.
A partir de los datos de las actividades realizadas, redacta un texto narrativo
profesional en castellano, en tercera persona y en pasado. No inventes datos
que no esten presentes, no uses vinetas ni encabezados: solo parrafos.`

// LoadSystemPrompt reads the prompt file when a path is configured and falls
// back to the built-in text otherwise.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return string(data), nil
}

// Measurement is a single reading taken during an activity.
type Measurement struct {
	Value interface{} `json:"value,omitempty"`
	Date  string      `json:"date,omitempty"`
	Time  string      `json:"time,omitempty"`
}

// ActivityData carries the collected value of one visit activity.
type ActivityData struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Value        interface{}   `json:"value,omitempty"`
	Measurements []Measurement `json:"measurements,omitempty"`
	Date         string        `json:"date,omitempty"`
	Time         string        `json:"time,omitempty"`
}

// VisitData is the request payload for a clinical history.
type VisitData struct {
	VisitName  string         `json:"visitName,omitempty"`
	Timestamp  *time.Time     `json:"timestamp,omitempty"`
	Activities []ActivityData `json:"activities"`
}

// BuildUserPrompt lays out the protocol, visit and collected activity data as
// the model's user message.
func BuildUserPrompt(protocolName, protocolCode, visitName string, data VisitData) string {
	var b strings.Builder

	name := data.VisitName
	if name == "" {
		name = visitName
	}
	date := "No especificada"
	if data.Timestamp != nil {
		date = data.Timestamp.Format("02/01/2006")
	}

	fmt.Fprintf(&b, "Protocolo: %s (%s)\n", protocolName, protocolCode)
	fmt.Fprintf(&b, "Visita: %s\n", name)
	fmt.Fprintf(&b, "Fecha de la visita: %s\n\n", date)
	b.WriteString("Actividades realizadas:\n")

	for i, act := range data.Activities {
		fmt.Fprintf(&b, "\n%d. %s", i+1, act.Name)
		if act.Description != "" {
			fmt.Fprintf(&b, "\n   Descripcion: %s", act.Description)
		}
		writeValue(&b, act.Value)
		if len(act.Measurements) > 0 {
			b.WriteString("\n   Mediciones:")
			for j, m := range act.Measurements {
				fmt.Fprintf(&b, "\n     - Medicion %d:", j+1)
				if m.Value != nil {
					fmt.Fprintf(&b, " Valor: %v", m.Value)
				}
				if m.Date != "" {
					fmt.Fprintf(&b, " Fecha: %s", m.Date)
				}
				if m.Time != "" {
					fmt.Fprintf(&b, " Hora: %s", m.Time)
				}
			}
		}
		if act.Date != "" {
			fmt.Fprintf(&b, "\n   Fecha: %s", act.Date)
		}
		if act.Time != "" {
			fmt.Fprintf(&b, "\n   Hora: %s", act.Time)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeValue(b *strings.Builder, value interface{}) {
	switch v := value.(type) {
	case nil:
	case string:
		if v != "" {
			fmt.Fprintf(b, "\n   Valor: %s", v)
		}
	case map[string]interface{}:
		// Compound field: stable key order keeps prompts deterministic.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %v", k, v[k]))
		}
		fmt.Fprintf(b, "\n   Valores: %s", strings.Join(parts, ", "))
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		fmt.Fprintf(b, "\n   Mediciones: %s", strings.Join(parts, ", "))
	default:
		fmt.Fprintf(b, "\n   Valor: %v", v)
	}
}
