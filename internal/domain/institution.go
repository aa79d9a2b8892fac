package domain

import "encoding/json"

// InstitutionID identifies the regulated deposit-taking institution that
// ultimately holds an account or product (the FRN). Many catalogue
// entries arrive without one; absence is a first-class risk state, so
// the type forces every consumer to handle the unidentified case
// instead of passing nullable strings around.
type InstitutionID struct {
	frn   string
	known bool
}

// IdentifiedInstitution creates an InstitutionID for a known FRN.
// An empty FRN yields UnidentifiedInstitution.
func IdentifiedInstitution(frn string) InstitutionID {
	if frn == "" {
		return InstitutionID{}
	}
	return InstitutionID{frn: frn, known: true}
}

// UnidentifiedInstitution creates an InstitutionID for an account or
// product whose institution has not been resolved.
func UnidentifiedInstitution() InstitutionID {
	return InstitutionID{}
}

// IsIdentified reports whether the FRN is known.
func (id InstitutionID) IsIdentified() bool {
	return id.known
}

// FRN returns the institution's registration number and whether it is
// known.
func (id InstitutionID) FRN() (string, bool) {
	return id.frn, id.known
}

// Equal reports whether two identifiers refer to the same identified
// institution. Unidentified identifiers are never equal to anything,
// including each other: two unresolved accounts cannot be assumed to
// share an institution.
func (id InstitutionID) Equal(other InstitutionID) bool {
	return id.known && other.known && id.frn == other.frn
}

// String returns the FRN, or "unidentified" when unknown. Logging only.
func (id InstitutionID) String() string {
	if !id.known {
		return "unidentified"
	}
	return id.frn
}

// MarshalJSON encodes the FRN as a string, or null when unknown.
func (id InstitutionID) MarshalJSON() ([]byte, error) {
	if !id.known {
		return []byte("null"), nil
	}
	return json.Marshal(id.frn)
}

// UnmarshalJSON decodes a string FRN or null.
func (id *InstitutionID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = UnidentifiedInstitution()
		return nil
	}
	var frn string
	if err := json.Unmarshal(data, &frn); err != nil {
		return err
	}
	*id = IdentifiedInstitution(frn)
	return nil
}
