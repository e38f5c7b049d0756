package generate

// GenerateRequest is the POST /generate body.
type GenerateRequest struct {
	Image       string `json:"image"`
	SelectionID int    `json:"selection_id"`
	UserID      string `json:"user_id,omitempty"`
}

// GenerateResponse acknowledges an accepted generation. JobID is the public
// handle the client polls; for the two-step pipeline it is the session id.
type GenerateResponse struct {
	Success       bool   `json:"success"`
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	SelectionID   int    `json:"selection_id"`
	SelectionName string `json:"selection_name"`
}

// CancelResponse is the POST /generations/{id}/cancel body.
type CancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Overlay asset categories. The step-2 prompt is a pure function of the
// category, never of session history.
const (
	CategoryDoll     = "doll"
	CategoryKeychain = "keychain"
)

// Selection is one of the character overlay assets the user can pick.
type Selection struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Image    string `json:"image"`
}

var selectionCatalog = map[int]Selection{
	1: {ID: 1, Name: "Classic Labubu", Category: CategoryDoll, Image: "labubu-classic.png"},
	2: {ID: 2, Name: "Pink Labubu", Category: CategoryDoll, Image: "labubu-pink.png"},
	3: {ID: 3, Name: "Chocolate Labubu", Category: CategoryDoll, Image: "labubu-chocolate.png"},
	4: {ID: 4, Name: "Labubu Keychain", Category: CategoryKeychain, Image: "labubu-keychain.png"},
	5: {ID: 5, Name: "Mini Labubu Keychain", Category: CategoryKeychain, Image: "labubu-keychain-mini.png"},
}

// SelectionByID resolves an overlay asset from its id.
func SelectionByID(id int) (Selection, bool) {
	sel, ok := selectionCatalog[id]
	return sel, ok
}

// AssetURL builds the full reference-image URL for the selection.
func (s Selection) AssetURL(baseURL string) string {
	return baseURL + "/" + s.Image
}
