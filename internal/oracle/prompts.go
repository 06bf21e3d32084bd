package oracle

import "fmt"

const extractionSystem = `Vous êtes un analyste des marchés publics au Burkina Faso. Vous extrayez les avis ` +
	`d'appel d'offres d'un texte et ne répondez qu'en JSON valide.`

const judgeSystem = `Vous êtes un analyste des marchés publics. Répondez brièvement en suivant ` +
	`exactement le format demandé.`

func extractionPrompt(text, label string) string {
	return fmt.Sprintf(`Source : %s

Retournez UNIQUEMENT un objet JSON de la forme :
{"tenders":[{"type":"appel_offres|rectificatif|prorogation|communique|annulation|autre",`+
		`"entity":"","reference":"","tender_object":"","deadline":"DD-MM-YYYY","description":"",`+
		`"category":"","keywords":[],"relevance_score":0.0,"budget":null,"location":null,"source_url":null}],`+
		`"total_extracted":0,"confidence":0.0}

Texte :
%s`, label, text)
}
