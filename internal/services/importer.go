package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"outreach-agent/internal/models"
	"outreach-agent/internal/utils"
)

// ObjectOpener reads an import file from object storage.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type ImportStats struct {
	Total    int `json:"total"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

type ImportOptions struct {
	// Verify asks the gateway whether each number is on WhatsApp and skips
	// the ones that are not.
	Verify bool
}

// Importer loads prospects from a CSV with the columns name, phone, company,
// sector, city and optionally website.
type Importer struct {
	prospects models.ProspectRepository
	gateway   models.MessagingGateway
	objects   ObjectOpener
}

func NewImporter(prospects models.ProspectRepository, gateway models.MessagingGateway, objects ObjectOpener) *Importer {
	return &Importer{prospects: prospects, gateway: gateway, objects: objects}
}

// Import reads source, a local path or an s3://bucket/key URI.
func (i *Importer) Import(ctx context.Context, source string, opts ImportOptions) (*ImportStats, error) {
	defer utils.TimeTrack(time.Now(), "Importação de "+source)

	var r io.ReadCloser
	if bucket, key, ok := ParseS3URI(source); ok {
		if i.objects == nil {
			return nil, fmt.Errorf("s3 source %s: %w", source, models.ErrNotConfigured)
		}
		body, err := i.objects.Open(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		r = body
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("error opening %s: %w", source, err)
		}
		r = f
	}
	defer r.Close()
	return i.ImportReader(ctx, r, opts)
}

func (i *Importer) ImportReader(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportStats, error) {
	if opts.Verify && i.gateway == nil {
		return nil, fmt.Errorf("verify requested: %w", models.ErrNotConfigured)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &ImportStats{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading csv header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for idx, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		columns[name] = idx
	}
	if _, ok := columns["phone"]; !ok {
		return nil, errors.New("csv header has no phone column")
	}
	field := func(row []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	stats := &ImportStats{}
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		stats.Total++
		if err != nil {
			utils.LogError("Erro ao ler linha %d: %v", stats.Total, err)
			stats.Errors++
			continue
		}

		raw := field(row, "phone")
		if !utils.ValidatePhone(raw) {
			utils.LogWarning("Telefone inválido ignorado: %s", raw)
			stats.Skipped++
			continue
		}
		phone := utils.NormalizePhone(raw)

		_, err = i.prospects.GetByPhone(ctx, phone)
		if err == nil {
			stats.Skipped++
			continue
		}
		if !errors.Is(err, models.ErrNotFound) {
			utils.LogError("Erro ao importar linha %d: %v", stats.Total, err)
			stats.Errors++
			continue
		}

		if opts.Verify {
			ok, err := i.gateway.NumberIsReachable(ctx, phone)
			if err != nil {
				utils.LogError("Erro ao verificar %s: %v", phone, err)
				stats.Errors++
				continue
			}
			if !ok {
				utils.LogInfo("Número %s não está no WhatsApp, ignorado", phone)
				stats.Skipped++
				continue
			}
		}

		p := &models.Prospect{
			Phone:   phone,
			Name:    field(row, "name"),
			Company: field(row, "company"),
			Sector:  field(row, "sector"),
			City:    field(row, "city"),
			Website: field(row, "website"),
			Status:  models.StatusNew,
		}
		switch err := i.prospects.Create(ctx, p); {
		case err == nil:
			stats.Imported++
		case errors.Is(err, models.ErrAlreadyExists):
			stats.Skipped++
		default:
			utils.LogError("Erro ao importar linha %d: %v", stats.Total, err)
			stats.Errors++
		}
	}

	utils.LogInfo("Importação concluída: total=%d importados=%d ignorados=%d erros=%d",
		stats.Total, stats.Imported, stats.Skipped, stats.Errors)
	return stats, nil
}
