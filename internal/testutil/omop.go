package testutil

import "github.com/all-of-us/cdr-deid/internal/ir"

// Dataset is the dataset name used by all fixtures.
const Dataset = "raw"

// AnchorCode is the concept code of the consent-date observation every
// fixture subject is anchored to.
const AnchorCode = "ExtraConsent_TodaysDate"

func col(name, native string) ir.ColumnDescriptor {
	return ir.ColumnDescriptor{Name: name, Type: ir.LogicalTypeOf(native), NativeType: native}
}

func table(name string, cols ...ir.ColumnDescriptor) *ir.TableDescriptor {
	return &ir.TableDescriptor{Key: ir.TableKey{Dataset: Dataset, Table: name}, Columns: cols}
}

// Person is the physical person table: one date column and two categories.
func Person() *ir.TableDescriptor {
	return table("person",
		col("person_id", "INT64"),
		col("birth_datetime", "TIMESTAMP"),
		col("race_concept_id", "INT64"),
		col("race_source_value", "STRING"),
		col("gender_concept_id", "INT64"),
		col("gender_source_value", "STRING"),
	)
}

// Observation is the meta-table. It carries encoded observations and two
// physical date columns.
func Observation() *ir.TableDescriptor {
	return table("observation",
		col("observation_id", "INT64"),
		col("person_id", "INT64"),
		col("observation_concept_id", "INT64"),
		col("observation_date", "DATE"),
		col("observation_datetime", "TIMESTAMP"),
		col("observation_source_value", "STRING"),
		col("observation_source_concept_id", "INT64"),
		col("value_as_string", "STRING"),
		col("value_as_concept_id", "INT64"),
		col("value_source_concept_id", "INT64"),
		col("value_source_value", "STRING"),
	)
}

// CareSite has no dates, no categories and no subject: it passes through.
func CareSite() *ir.TableDescriptor {
	return table("care_site",
		col("care_site_id", "INT64"),
		col("care_site_name", "STRING"),
		col("place_of_service_concept_id", "INT64"),
	)
}

// Measurement has a subject key, a row key and one date column.
func Measurement() *ir.TableDescriptor {
	return table("measurement",
		col("measurement_id", "INT64"),
		col("person_id", "INT64"),
		col("measurement_concept_id", "INT64"),
		col("measurement_date", "DATE"),
		col("value_as_number", "FLOAT64"),
	)
}

// ActivitySummary has a date column but no row key, so its dates cannot be
// shifted row by row.
func ActivitySummary() *ir.TableDescriptor {
	return table("activity_summary",
		col("person_id", "INT64"),
		col("date", "DATE"),
		col("steps", "INT64"),
	)
}

// Tables returns every fixture table.
func Tables() []*ir.TableDescriptor {
	return []*ir.TableDescriptor{Person(), Observation(), CareSite(), Measurement(), ActivitySummary()}
}

func ppi(id int64, class, code, name string) ir.ConceptRow {
	return ir.ConceptRow{ID: id, Code: code, Name: name, VocabularyID: "PPI", ConceptClassID: class}
}

// Concepts returns a small PPI vocabulary that resolves every default
// category, plus a few date questions and one non-PPI concept.
func Concepts() []ir.ConceptRow {
	return []ir.ConceptRow{
		// questions
		ppi(1585250, "Question", AnchorCode, "Today's date"),
		ppi(1585259, "PPI Modifier", "PIIBirthInformation_BirthDate", "Birth date"),
		ppi(1585400, "Question", "Insurance_StartDate", "Insurance start date"),
		ppi(1586140, "Question", "Race_WhatRaceEthnicity", "Race/Ethnicity"),
		ppi(1585838, "Question", "Gender_GenderIdentity", "Gender identity"),
		ppi(1585899, "Question", "TheBasics_SexualOrientation", "Sexual orientation"),
		ppi(1585940, "Question", "EducationLevel_HighestGrade", "Highest grade"),
		ppi(1585952, "Question", "Employment_EmploymentStatus", "Employment status"),
		ppi(1585378, "Question", "Language_SpokenWrittenLanguage", "Spoken/written language"),
		ppi(1585845, "Question", "BiologicalSexAtBirth_SexAtBirth", "Sex at birth"),

		// race
		ppi(1586141, "Answer", "WhatRaceEthnicity_AIAN", "American Indian or Alaska Native"),
		ppi(1586142, "Answer", "WhatRaceEthnicity_Asian", "Asian"),
		ppi(1586143, "Answer", "WhatRaceEthnicity_Black", "Black"),
		ppi(1586144, "Answer", "WhatRaceEthnicity_NHPI", "Native Hawaiian or Other Pacific Islander"),
		ppi(1586145, "Answer", "WhatRaceEthnicity_MENA", "Middle Eastern or North African"),
		ppi(1586146, "Answer", "WhatRaceEthnicity_White", "White"),
		ppi(1586148, "Answer", "WhatRaceEthnicity_Other", "Other"),

		// gender
		ppi(1585839, "Answer", "GenderIdentity_Man", "Man"),
		ppi(1585840, "Answer", "GenderIdentity_Woman", "Woman"),
		ppi(1585841, "Answer", "GenderIdentity_NonBinary", "Non-binary"),
		ppi(1585842, "Answer", "GenderIdentity_Transgender", "Transgender"),
		ppi(2000000002, "Answer", "GenderIdentity_GeneralizedDiffGender", "Not man only, not woman only, prefer not to answer, or skipped"),

		// sexual orientation
		ppi(1585900, "Answer", "SexualOrientation_Straight", "Straight"),
		ppi(1585901, "Answer", "SexualOrientation_Gay", "Gay"),
		ppi(1585902, "Answer", "SexualOrientation_None", "None"),

		// education
		ppi(1585941, "Answer", "HighestGrade_NeverAttended", "Never attended school"),
		ppi(1585945, "Answer", "HighestGrade_TwelveOrGED", "Grade 12 or GED"),
		ppi(1585946, "Answer", "HighestGrade_CollegeOnetoThree", "1 to 3 years of college"),
		ppi(1585947, "Answer", "HighestGrade_CollegeGraduate", "College graduate"),
		ppi(1585948, "Answer", "HighestGrade_AdvancedDegree", "Advanced degree"),
		ppi(2000000007, "Answer", "HighestGrade_NoneOfThese", "None of these"),

		// employment: two sentinel candidates, the lower id wins
		ppi(1585953, "Answer", "EmploymentStatus_EmployedForWages", "Employed for wages"),
		ppi(1585954, "Answer", "EmploymentStatus_SelfEmployed", "Self-employed"),
		ppi(1585955, "Answer", "EmploymentStatus_OutOfWorkOneOrMore", "Out of work for 1 year or more"),
		ppi(1585958, "Answer", "EmploymentStatus_Retired", "Retired"),
		ppi(1585960, "Answer", "EmploymentStatus_Other", "Other"),
		ppi(2000000005, "Answer", "EmploymentStatus_NoneOfThese", "None of these"),

		// language
		ppi(1585379, "Answer", "SpokenWrittenLanguage_English", "English"),
		ppi(1585380, "Answer", "SpokenWrittenLanguage_Spanish", "Spanish"),
		ppi(1585381, "Answer", "SpokenWrittenLanguage_ChineseChina", "Chinese"),
		ppi(2000000009, "Answer", "SpokenWrittenLanguage_LanguageOther", "Other language"),

		// sex at birth
		ppi(1585846, "Answer", "SexAtBirth_Male", "Male"),
		ppi(1585847, "Answer", "SexAtBirth_Female", "Female"),
		ppi(1585848, "Answer", "SexAtBirth_Intersex", "Intersex"),
		ppi(2000000010, "Answer", "SexAtBirth_SexAtBirthNoneOfThese", "None of these"),

		// outside the PPI vocabulary
		{ID: 8527, Code: "8527", Name: "White", VocabularyID: "Race", ConceptClassID: "Race"},
	}
}

// ConceptsWithout returns Concepts minus every row whose code is listed.
// It simulates a misconfigured catalog.
func ConceptsWithout(codes ...string) []ir.ConceptRow {
	drop := make(map[string]bool, len(codes))
	for _, c := range codes {
		drop[c] = true
	}
	var out []ir.ConceptRow
	for _, r := range Concepts() {
		if !drop[r.Code] {
			out = append(out, r)
		}
	}
	return out
}
