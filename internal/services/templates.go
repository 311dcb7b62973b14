package services

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"outreach-agent/internal/models"
)

// MessageTemplate is one first-contact variant. Placeholders: {nome},
// {empresa}, {setor}, {cidade}.
type MessageTemplate struct {
	ID   string `yaml:"id"`
	Body string `yaml:"body"`
}

func DefaultFirstContactTemplates() []MessageTemplate {
	return []MessageTemplate{
		{ID: "A", Body: "Olá {nome}, tudo bem?\n\n" +
			"Vi o trabalho da {empresa} no setor de {setor} e acredito que temos uma oportunidade " +
			"de visibilidade interessante para vocês aqui em {cidade}.\n\n" +
			"Você teria um minuto para eu explicar como podemos destacar a {empresa} na região?"},
		{ID: "B", Body: "Oi {nome}, como vai?\n\n" +
			"Acompanho a {empresa} em {setor} e vejo muita sinergia com o nosso público.\n\n" +
			"Gostaria de compartilhar uma ideia para posicionar ainda mais a sua marca. " +
			"Podemos conversar rapidamente?"},
		{ID: "C", Body: "Olá {nome}!\n\n" +
			"Estava analisando o mercado de {setor} e a {empresa} me chamou atenção.\n\n" +
			"Estamos com um projeto especial para empresas de destaque do seu segmento. " +
			"Faz sentido conversarmos sobre como atrair mais clientes qualificados?"},
	}
}

// DefaultFollowUpTemplates are indexed by ordinal: 1st, 2nd, and 3rd or later.
func DefaultFollowUpTemplates() []string {
	return []string{
		"Oi {nome}, conseguiu dar uma olhada na minha mensagem anterior?",
		"Olá {nome}, imagino que a rotina esteja corrida. Só para reforçar que adoraríamos ter a {empresa} conosco.",
		"{nome}, esta é minha última tentativa. Se fizer sentido no futuro, estou à disposição.",
	}
}

// TemplateRenderer renders outbound texts from a prospect and its lifecycle stage.
type TemplateRenderer struct {
	firstContact []MessageTemplate
	followUps    []string

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewTemplateRenderer(firstContact []MessageTemplate, followUps []string) (*TemplateRenderer, error) {
	if len(firstContact) == 0 {
		return nil, fmt.Errorf("at least one first-contact template is required")
	}
	if len(followUps) == 0 {
		return nil, fmt.Errorf("at least one follow-up template is required")
	}
	for _, t := range firstContact {
		if strings.TrimSpace(t.Body) == "" {
			return nil, fmt.Errorf("template %q is empty", t.ID)
		}
	}
	return &TemplateRenderer{
		firstContact: firstContact,
		followUps:    followUps,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// WithRand replaces the variant picker's source.
func (r *TemplateRenderer) WithRand(rnd *rand.Rand) *TemplateRenderer {
	r.mu.Lock()
	r.rnd = rnd
	r.mu.Unlock()
	return r
}

// FirstContact picks a variant uniformly at random and returns its id and text.
func (r *TemplateRenderer) FirstContact(p *models.Prospect) (string, string) {
	r.mu.Lock()
	t := r.firstContact[r.rnd.Intn(len(r.firstContact))]
	r.mu.Unlock()
	return t.ID, interpolate(t.Body, p)
}

// FollowUp renders the ordinal-th follow-up; ordinals past the table reuse the last entry.
func (r *TemplateRenderer) FollowUp(p *models.Prospect, ordinal int) (string, string) {
	idx := ordinal - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(r.followUps) {
		idx = len(r.followUps) - 1
	}
	return fmt.Sprintf("followup-%d", idx+1), interpolate(r.followUps[idx], p)
}

func (r *TemplateRenderer) TemplateIDs() []string {
	ids := make([]string, 0, len(r.firstContact))
	for _, t := range r.firstContact {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	return ids
}

func interpolate(body string, p *models.Prospect) string {
	return strings.NewReplacer(
		"{nome}", fallback(p.Name, "pessoal"),
		"{empresa}", fallback(p.Company, "sua empresa"),
		"{setor}", fallback(p.Sector, "seu segmento"),
		"{cidade}", fallback(p.City, "sua região"),
	).Replace(body)
}

func fallback(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return def
}
