// Package roles holds the role vocabulary: canonical labels, legacy
// aliases kept in stored data, the ordered privilege hierarchy and the
// additive capability grants that sit outside it.
package roles

// Canonical hierarchy labels.
const (
	Admin          = "admin"
	GerenteDJT     = "gerente_djt"
	GerenteDivisao = "gerente_divisao_djtx"
	Coordenador    = "coordenador_djtx"
	LiderEquipe    = "lider_equipe"
	Colaborador    = "colaborador"
	Invited        = "invited"
)

// Non-hierarchical grants. These are additive capabilities (studio
// access etc.) and never compete in the privilege ordering.
const (
	CuradorConteudo    = "curador_conteudo"
	AnalistaFinanceiro = "analista_financeiro"
)

// legacyAliases maps deprecated labels still present in stored role
// assignments to their canonical equivalents.
var legacyAliases = map[string]string{
	"gerente":       GerenteDJT,
	"lider_divisao": GerenteDivisao,
	"coordenador":   Coordenador,
}

// Normalize maps a legacy role label to its canonical form. Canonical
// labels pass through unchanged, so Normalize is idempotent.
func Normalize(label string) string {
	if canonical, ok := legacyAliases[label]; ok {
		return canonical
	}
	return label
}

// Hierarchy is a fixed ordered list of role labels, highest privilege
// first. It is injected into the scope resolver rather than read from
// a package global so tests can run alternate orderings.
type Hierarchy []string

// DefaultHierarchy returns the production privilege ordering.
func DefaultHierarchy() Hierarchy {
	return Hierarchy{
		Admin,
		GerenteDJT,
		GerenteDivisao,
		Coordenador,
		LiderEquipe,
		Colaborador,
		Invited,
	}
}

// Lowest returns the least-privileged label, the default for a verified
// identity holding no hierarchy role.
func (h Hierarchy) Lowest() string {
	if len(h) == 0 {
		return Invited
	}
	return h[len(h)-1]
}

// Highest returns the first label of h present in held. The result
// depends only on the ordering of h, never on the order labels were
// granted or stored.
func (h Hierarchy) Highest(held map[string]bool) (string, bool) {
	for _, label := range h {
		if held[label] {
			return label, true
		}
	}
	return "", false
}

// privileged are the leadership tiers: holding one implies leader
// status and studio access regardless of profile flags.
var privileged = map[string]bool{
	Admin:          true,
	GerenteDJT:     true,
	GerenteDivisao: true,
	Coordenador:    true,
	LiderEquipe:    true,
}

// Privileged reports whether role is a leadership tier.
func Privileged(role string) bool {
	return privileged[role]
}

var grants = map[string]bool{
	CuradorConteudo:    true,
	AnalistaFinanceiro: true,
}

// IsGrant reports whether label is a non-hierarchical capability grant.
func IsGrant(label string) bool {
	return grants[label]
}

// evaluatorEligible are the tiers allowed to evaluate submitted events.
var evaluatorEligible = map[string]bool{
	Coordenador: true,
	LiderEquipe: true,
}

// EvaluatorEligible reports whether role may be assigned as an event
// evaluator.
func EvaluatorEligible(role string) bool {
	return evaluatorEligible[role]
}

// EvaluatorLabels returns every stored label, canonical or legacy, that
// maps to an evaluator-eligible tier. Pool queries match stored rows,
// which may still carry legacy aliases.
func EvaluatorLabels() []string {
	labels := make([]string, 0, len(evaluatorEligible)+len(legacyAliases))
	for canonical := range evaluatorEligible {
		labels = append(labels, canonical)
	}
	for alias, canonical := range legacyAliases {
		if evaluatorEligible[canonical] {
			labels = append(labels, alias)
		}
	}
	return labels
}
