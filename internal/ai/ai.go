// Package ai is the inventory assistant: Gemini answering questions about
// stock, orders and sales through a single read-only SQL tool.
package ai

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

const (
	DefaultModel = "gemini-1.5-flash"
	toolName     = "run_readonly_sql"
	maxToolTurns = 5
	maxRows      = 200
)

var (
	ErrWriteQuery     = errors.New("ai: only SELECT queries are allowed")
	ErrRestrictedData = errors.New("ai: query touches restricted data")
	ErrNoReply    = errors.New("ai: empty model response")
)

// writeKeywords matches statements that change data or schema.
var writeKeywords = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|REPLACE|GRANT|REVOKE|RENAME|CALL|LOAD|HANDLER|LOCK|SET|OUTFILE|DUMPFILE)\b`)

// restricted matches credentials, password hashes, queued job payloads and
// server-side files or catalogs. None of them is inventory data.
var restricted = regexp.MustCompile(`(?i)\b(integrations|access_token|refresh_token|password_hash|sync_jobs|load_file|information_schema|performance_schema|mysql\s*\.)`)

var (
	usersTable = regexp.MustCompile(`(?i)\busers\b`)
	countStar  = regexp.MustCompile(`(?i)\bCOUNT\s*\(\s*\*\s*\)`)
)

// Assistant holds the Gemini client and the connection used by the tool.
// Point db at a read-only user when one is configured.
type Assistant struct {
	client *genai.Client
	db     *sql.DB
	model  string
}

// NewAssistant initializes the Gemini client.
func NewAssistant(ctx context.Context, apiKey, model string, db *sql.DB) (*Assistant, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Assistant{client: client, db: db, model: model}, nil
}

// Close releases the client.
func (a *Assistant) Close() error {
	return a.client.Close()
}

// Reply answers message for a user with role. It returns the text and the
// token count reported by the last turn.
func (a *Assistant) Reply(ctx context.Context, message, role string) (string, int, error) {
	// 1. --- Model & tool ---
	model := a.client.GenerativeModel(a.model)
	model.Tools = []*genai.Tool{{
		FunctionDeclarations: []*genai.FunctionDeclaration{{
			Name:        toolName,
			Description: "Executes a READ-ONLY MySQL SELECT query against the LupoHub database.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"query": {Type: genai.TypeString, Description: "The MySQL SELECT query to execute."},
				},
				Required: []string{"query"},
			},
		}},
	}}
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt(role))}}

	// 2. --- Conversation ---
	cs := model.StartChat()
	res, err := cs.SendMessage(ctx, genai.Text(message))
	if err != nil {
		return "", 0, fmt.Errorf("error sending message: %w", err)
	}

	tokens := 0
	for turn := 0; ; turn++ {
		if res.UsageMetadata != nil {
			tokens = int(res.UsageMetadata.TotalTokenCount)
		}
		if len(res.Candidates) == 0 || res.Candidates[0].Content == nil || len(res.Candidates[0].Content.Parts) == 0 {
			return "", tokens, ErrNoReply
		}

		call, ok := res.Candidates[0].Content.Parts[0].(genai.FunctionCall)
		if !ok {
			return textOf(res.Candidates[0].Content.Parts), tokens, nil
		}
		if call.Name != toolName {
			return "", tokens, fmt.Errorf("unknown function: %s", call.Name)
		}
		if turn >= maxToolTurns {
			return "", tokens, fmt.Errorf("ai: gave up after %d queries", maxToolTurns)
		}

		// 3. --- Tool call ---
		query, _ := call.Args["query"].(string)
		log.Info().Str("role", role).Str("query", query).Msg("assistant running SQL")
		result, qErr := a.RunReadOnlyQuery(ctx, query)
		if qErr != nil {
			result = "SQL Error: " + qErr.Error()
		}

		res, err = cs.SendMessage(ctx, genai.FunctionResponse{
			Name:     toolName,
			Response: map[string]any{"result": result},
		})
		if err != nil {
			return "", tokens, fmt.Errorf("tool response error: %w", err)
		}
	}
}

func textOf(parts []genai.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}

// CheckReadOnly rejects anything but a single SELECT (or WITH ... SELECT)
// and any query reaching restricted tables or columns.
func CheckReadOnly(query string) error {
	q := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	upper := strings.ToUpper(q)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return ErrWriteQuery
	}
	if strings.Contains(q, ";") || writeKeywords.MatchString(q) {
		return ErrWriteQuery
	}
	if restricted.MatchString(q) {
		return ErrRestrictedData
	}
	// A wildcard over users would expose password_hash.
	if usersTable.MatchString(q) && strings.Contains(countStar.ReplaceAllString(q, ""), "*") {
		return ErrRestrictedData
	}
	return nil
}

// RunReadOnlyQuery executes a checked query and returns the rows as a JSON
// array of objects, capped at maxRows.
func (a *Assistant) RunReadOnlyQuery(ctx context.Context, query string) (string, error) {
	if err := CheckReadOnly(query); err != nil {
		return "", err
	}
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", err
	}
	table := []map[string]any{}
	for rows.Next() && len(table) < maxRows {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		entry := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				entry[col] = string(b)
			} else {
				entry[col] = values[i]
			}
		}
		table = append(table, entry)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	out, err := json.Marshal(table)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func systemPrompt(role string) string {
	return fmt.Sprintf(`You are the LupoHub inventory assistant. Role of the user: %s.
Answer in Spanish, concisely. Use run_readonly_sql (MySQL, SELECT only) when data is needed.
Schema:
- products (id, sku, name, category, base_price, description, tienda_nube_id, mercado_libre_id)
- colors (id, code, name, hex)
- sizes (id, size_code, name)
- product_colors (id, product_id, color_id)
- product_variants (id, product_color_id, size_id, sku, tienda_nube_variant_id, mercado_libre_variant_id)
- stocks (variant_id, stock, updated_at)
- stock_movements (id, variant_id, previous_stock, new_stock, quantity_change, movement_type [PEDIDO_MAYORISTA, VENTA_TIENDA_NUBE, VENTA_MERCADO_LIBRE, AJUSTE_MANUAL, DEVOLUCION, IMPORTACION_TN], reference, created_at)
- customers (id, name, business_name, tax_id, email, phone, city, province)
- orders (id, customer_id, seller_id, date, status [Borrador, Confirmado, Preparación, Despachado, Cancelado], total, picked_by)
- order_items (id, order_id, variant_id, quantity, picked, price_at_moment)
- users (id, name, email, role [admin, vendedor, deposito])
Queries on integrations, sync_jobs or users.password_hash are rejected; list users columns explicitly.`, role)
}
