// Package rules resolves the generalization categories against the concept
// catalog and builds the conditional expressions that coarsen their values.
package rules

import (
	"fmt"

	"github.com/all-of-us/cdr-deid/internal/ir"
)

// Encoded fields of a meta-table row rewritten by a generalization.
const (
	FieldValueAsString        = "value_as_string"
	FieldValueAsConceptID     = "value_as_concept_id"
	FieldValueSourceConceptID = "value_source_concept_id"
	FieldValueSourceValue     = "value_source_value"
)

// EncodedFields lists the rewritten meta-table fields in projection order.
var EncodedFields = []string{
	FieldValueAsString,
	FieldValueAsConceptID,
	FieldValueSourceConceptID,
	FieldValueSourceValue,
}

// classAnswer is the concept class of survey answers.
const classAnswer = "Answer"

// Category describes one generalized attribute.
//
// Questions selects the survey questions whose rows carry the attribute in a
// meta-table. Kept selects the answers left as-is. Sentinel selects the
// bucket every other answer collapses into; when several rows match, the
// lowest concept id wins.
type Category struct {
	Name      string        `json:"name" yaml:"name"`
	Questions ir.FilterSpec `json:"questions" yaml:"questions"`
	Kept      ir.FilterSpec `json:"kept" yaml:"kept"`
	Sentinel  ir.FilterSpec `json:"sentinel" yaml:"sentinel"`
	IDField   string        `json:"id_field" yaml:"id_field"`
	NameField string        `json:"name_field" yaml:"name_field"`
}

// Restrict returns a copy of c looked up under vocabularyID, with question
// lookups limited to questionClasses. Empty arguments leave c unchanged.
func (c Category) Restrict(vocabularyID string, questionClasses []string) Category {
	if vocabularyID != "" {
		c.Questions.VocabularyID = vocabularyID
		c.Kept.VocabularyID = vocabularyID
		c.Sentinel.VocabularyID = vocabularyID
	}
	if len(questionClasses) > 0 {
		c.Questions.ConceptClassIDs = append([]string(nil), questionClasses...)
	}
	return c
}

// Validate checks that the category can be resolved.
func (c Category) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("category: name is required")
	}
	if c.Kept.IsZero() {
		return fmt.Errorf("category %s: kept filter is empty", c.Name)
	}
	if c.Sentinel.IsZero() {
		return fmt.Errorf("category %s: sentinel filter is empty", c.Name)
	}
	if c.Questions.IsZero() {
		return fmt.Errorf("category %s: questions filter is empty", c.Name)
	}
	return nil
}

func answers(vocab, code string) ir.FilterSpec {
	return ir.FilterSpec{VocabularyID: vocab, ConceptClassIDs: []string{classAnswer}, CodePattern: code}
}

func question(vocab, code string) ir.FilterSpec {
	return ir.FilterSpec{VocabularyID: vocab, ConceptClassIDs: []string{"Question"}, CodePattern: code}
}

// Defaults returns the seven categories generalized in the PPI survey data,
// in the fixed order used for union branches.
func Defaults() []Category {
	const ppi = "PPI"
	race := answers(ppi, `^WhatRaceEthnicity_(White|Black|Asian)$`)
	race.ExcludePattern = "native|pacific"
	raceOther := ir.FilterSpec{
		VocabularyID:    ppi,
		ConceptClassIDs: []string{classAnswer},
		CodePattern:     `^WhatRaceEthnicity_`,
		NamePattern:     `other`,
		ExcludePattern:  "native|pacific",
	}

	return []Category{
		{
			Name:      "race",
			Questions: question(ppi, `^Race_WhatRaceEthnicity$`),
			Kept:      race,
			Sentinel:  raceOther,
			IDField:   "race_concept_id",
			NameField: "race_source_value",
		},
		{
			Name:      "gender",
			Questions: question(ppi, `^Gender_GenderIdentity$`),
			Kept:      answers(ppi, `^GenderIdentity_(Man|Woman)$`),
			Sentinel:  answers(ppi, `^GenderIdentity_GeneralizedDiffGender$`),
			IDField:   "gender_concept_id",
			NameField: "gender_source_value",
		},
		{
			Name:      "sexual_orientation",
			Questions: question(ppi, `^TheBasics_SexualOrientation$`),
			Kept:      answers(ppi, `^SexualOrientation_Straight$`),
			Sentinel:  answers(ppi, `^SexualOrientation_None$`),
			IDField:   "sexual_orientation_concept_id",
			NameField: "sexual_orientation_source_value",
		},
		{
			Name:      "education",
			Questions: question(ppi, `^EducationLevel_HighestGrade$`),
			Kept:      answers(ppi, `^HighestGrade_(TwelveOrGED|CollegeOnetoThree|CollegeGraduate|AdvancedDegree)$`),
			Sentinel:  answers(ppi, `^HighestGrade_NoneOfThese$`),
			IDField:   "education_concept_id",
			NameField: "education_source_value",
		},
		{
			Name:      "employment",
			Questions: question(ppi, `^Employment_EmploymentStatus$`),
			Kept:      answers(ppi, `^EmploymentStatus_(EmployedForWages|SelfEmployed|Retired)$`),
			Sentinel:  answers(ppi, `^EmploymentStatus_(NoneOfThese|Other)$`),
			IDField:   "employment_concept_id",
			NameField: "employment_source_value",
		},
		{
			Name:      "language",
			Questions: question(ppi, `^Language_SpokenWrittenLanguage$`),
			Kept:      answers(ppi, `^SpokenWrittenLanguage_(English|Spanish)$`),
			Sentinel:  answers(ppi, `^SpokenWrittenLanguage_LanguageOther$`),
			IDField:   "language_concept_id",
			NameField: "language_source_value",
		},
		{
			Name:      "sex_at_birth",
			Questions: question(ppi, `^BiologicalSexAtBirth_SexAtBirth$`),
			Kept:      answers(ppi, `^SexAtBirth_(Male|Female)$`),
			Sentinel:  answers(ppi, `^SexAtBirth_SexAtBirthNoneOfThese$`),
			IDField:   "sex_at_birth_concept_id",
			NameField: "sex_at_birth_source_value",
		},
	}
}
