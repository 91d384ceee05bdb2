package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/ryanbastic/go-fieldmap/internal/persist"
	"github.com/ryanbastic/go-fieldmap/internal/schema"
)

// --- Huma Input/Output types ---

type CategoryBody struct {
	Name             string                   `json:"name" doc:"Category name" minLength:"1"`
	Color            string                   `json:"color,omitempty" doc:"Display color"`
	Icon             string                   `json:"icon,omitempty" doc:"Display icon"`
	FieldsDefinition []schema.FieldDefinition `json:"fields_definition" doc:"Ordered field definitions"`
}

type CreateCategoryInput struct {
	Body CategoryBody
}

type UpdateCategoryInput struct {
	CategoryID string `path:"category_id" doc:"Category UUID" format:"uuid"`
	Body       CategoryBody
}

type CategoryInput struct {
	CategoryID string `path:"category_id" doc:"Category UUID" format:"uuid"`
}

type CategoryOutput struct {
	Body *schema.Category
}

type ListCategoriesOutput struct {
	Body []schema.Category
}

// FieldEdit is one step of a schema edit. Op selects which fields apply.
type FieldEdit struct {
	Op    string                  `json:"op" enum:"add,remove,move,rename,update,move_option" doc:"Edit operation"`
	ID    string                  `json:"id,omitempty" doc:"Field the edit applies to"`
	NewID string                  `json:"new_id,omitempty" doc:"New field id for rename"`
	From  int                     `json:"from,omitempty" doc:"Source index for move and move_option"`
	To    int                     `json:"to,omitempty" doc:"Target index for move and move_option"`
	Field *schema.FieldDefinition `json:"field,omitempty" doc:"Field for add and update"`
}

type EditFieldsInput struct {
	CategoryID string `path:"category_id" doc:"Category UUID" format:"uuid"`
	Body       struct {
		Edits []FieldEdit `json:"edits" minItems:"1" doc:"Edits applied in order; all or nothing"`
	}
}

type CategoryFields struct {
	Category *schema.Category         `json:"category"`
	Inputs   []schema.FieldDefinition `json:"inputs" doc:"Fields shown on create and edit forms"`
	AutoIDs  []schema.FieldDefinition `json:"auto_ids" doc:"Fields filled by the system"`
	Editors  []schema.Editor          `json:"editors" doc:"Input description for every field"`
}

type CategoryFieldsOutput struct {
	Body CategoryFields
}

type AutoIDInput struct {
	CategoryID string `path:"category_id" doc:"Category UUID" format:"uuid"`
	FieldID    string `path:"field_id" doc:"auto_id field"`
}

type AutoIDPreview struct {
	FieldID string `json:"field_id"`
	Next    int64  `json:"next" doc:"Value the next shape would receive"`
}

type AutoIDOutput struct {
	Body AutoIDPreview
}

// --- Handler ---

type CategoryHandler struct {
	coord  *persist.Coordinator
	logger *slog.Logger
}

func NewCategoryHandler(coord *persist.Coordinator, logger *slog.Logger) *CategoryHandler {
	return &CategoryHandler{coord: coord, logger: logger}
}

func registerCategoryRoutes(api huma.API, h *CategoryHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "list-categories",
		Method:      http.MethodGet,
		Path:        "/v1/categories",
		Summary:     "List categories",
		Tags:        []string{"categories"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID:   "create-category",
		Method:        http.MethodPost,
		Path:          "/v1/categories",
		Summary:       "Create a category (admin)",
		Tags:          []string{"categories"},
		DefaultStatus: http.StatusCreated,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "update-category",
		Method:      http.MethodPut,
		Path:        "/v1/categories/{category_id}",
		Summary:     "Replace a category (admin)",
		Tags:        []string{"categories"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-category",
		Method:        http.MethodDelete,
		Path:          "/v1/categories/{category_id}",
		Summary:       "Delete a category (admin); its shapes keep their metadata",
		Tags:          []string{"categories"},
		DefaultStatus: http.StatusNoContent,
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "category-fields",
		Method:      http.MethodGet,
		Path:        "/v1/categories/{category_id}/fields",
		Summary:     "Field definitions and editors",
		Tags:        []string{"categories"},
	}, h.Fields)

	huma.Register(api, huma.Operation{
		OperationID: "edit-category-fields",
		Method:      http.MethodPatch,
		Path:        "/v1/categories/{category_id}/fields",
		Summary:     "Edit the field list (admin)",
		Tags:        []string{"categories"},
	}, h.EditFields)

	huma.Register(api, huma.Operation{
		OperationID: "preview-auto-id",
		Method:      http.MethodGet,
		Path:        "/v1/categories/{category_id}/auto-id/{field_id}",
		Summary:     "Preview the next auto_id value",
		Tags:        []string{"categories"},
	}, h.AutoID)
}

func (h *CategoryHandler) List(ctx context.Context, _ *struct{}) (*ListCategoriesOutput, error) {
	return &ListCategoriesOutput{Body: h.coord.Collection().Categories()}, nil
}

func (b CategoryBody) category(id uuid.UUID) schema.Category {
	return schema.Category{
		ID:               id,
		Name:             b.Name,
		Color:            b.Color,
		Icon:             b.Icon,
		FieldsDefinition: b.FieldsDefinition,
	}
}

func (h *CategoryHandler) Create(ctx context.Context, input *CreateCategoryInput) (*CategoryOutput, error) {
	c, err := h.coord.SaveCategory(ctx, input.Body.category(uuid.Nil))
	if err != nil {
		return nil, toHTTP(h.logger, "create category", err)
	}
	return &CategoryOutput{Body: c}, nil
}

func (h *CategoryHandler) Update(ctx context.Context, input *UpdateCategoryInput) (*CategoryOutput, error) {
	id, err := parseID("category_id", input.CategoryID)
	if err != nil {
		return nil, err
	}
	c, err := h.coord.SaveCategory(ctx, input.Body.category(id))
	if err != nil {
		return nil, toHTTP(h.logger, "update category", err)
	}
	return &CategoryOutput{Body: c}, nil
}

func (h *CategoryHandler) Delete(ctx context.Context, input *CategoryInput) (*struct{}, error) {
	id, err := parseID("category_id", input.CategoryID)
	if err != nil {
		return nil, err
	}
	if err := h.coord.DeleteCategory(ctx, id); err != nil {
		return nil, toHTTP(h.logger, "delete category", err)
	}
	return nil, nil
}

func (h *CategoryHandler) Fields(ctx context.Context, input *CategoryInput) (*CategoryFieldsOutput, error) {
	id, err := parseID("category_id", input.CategoryID)
	if err != nil {
		return nil, err
	}
	c, err := h.lookup(ctx, id, "category fields")
	if err != nil {
		return nil, err
	}
	return &CategoryFieldsOutput{Body: CategoryFields{
		Category: c,
		Inputs:   schema.InputFields(c),
		AutoIDs:  schema.AutoIDFields(c),
		Editors:  schema.Editors(c),
	}}, nil
}

func (h *CategoryHandler) EditFields(ctx context.Context, input *EditFieldsInput) (*CategoryOutput, error) {
	id, err := parseID("category_id", input.CategoryID)
	if err != nil {
		return nil, err
	}
	c, err := h.lookup(ctx, id, "edit fields")
	if err != nil {
		return nil, err
	}
	ed := schema.NewSchemaEditor(*c)
	for i, e := range input.Body.Edits {
		if err := applyEdit(ed, e); err != nil {
			return nil, huma.Error422UnprocessableEntity(fmt.Sprintf("edit %d (%s): %v", i, e.Op, err))
		}
	}
	edited, err := ed.Result()
	if err != nil {
		return nil, toHTTP(h.logger, "edit fields", err)
	}
	saved, err := h.coord.SaveCategory(ctx, edited)
	if err != nil {
		return nil, toHTTP(h.logger, "edit fields", err)
	}
	return &CategoryOutput{Body: saved}, nil
}

// lookup resolves a category addressed by the path, where an unknown id is a 404.
func (h *CategoryHandler) lookup(ctx context.Context, id uuid.UUID, op string) (*schema.Category, error) {
	c, err := h.coord.Category(ctx, id)
	if errors.Is(err, schema.ErrUnknownCategory) {
		return nil, huma.Error404NotFound(err.Error())
	}
	if err != nil {
		return nil, toHTTP(h.logger, op, err)
	}
	return c, nil
}

func applyEdit(ed *schema.SchemaEditor, e FieldEdit) error {
	switch e.Op {
	case "add":
		if e.Field == nil {
			return fmt.Errorf("field is required")
		}
		return ed.Add(*e.Field)
	case "remove":
		return ed.Remove(e.ID)
	case "move":
		return ed.Move(e.From, e.To)
	case "rename":
		return ed.Rename(e.ID, e.NewID)
	case "update":
		if e.Field == nil {
			return fmt.Errorf("field is required")
		}
		repl := *e.Field
		repl.ID = e.ID
		return ed.Update(e.ID, func(f *schema.FieldDefinition) { *f = repl })
	case "move_option":
		var moveErr error
		err := ed.Update(e.ID, func(f *schema.FieldDefinition) {
			if !f.Type.HasOptions() {
				moveErr = fmt.Errorf("field %q has no options", e.ID)
				return
			}
			f.Options, moveErr = schema.MoveOption(schema.OptionsFor(*f), e.From, e.To)
		})
		if err != nil {
			return err
		}
		return moveErr
	}
	return fmt.Errorf("unknown op %q", e.Op)
}

func (h *CategoryHandler) AutoID(ctx context.Context, input *AutoIDInput) (*AutoIDOutput, error) {
	id, err := parseID("category_id", input.CategoryID)
	if err != nil {
		return nil, err
	}
	if _, err := h.lookup(ctx, id, "preview auto id"); err != nil {
		return nil, err
	}
	next, err := h.coord.NextAutoID(ctx, id, input.FieldID)
	if err != nil {
		return nil, toHTTP(h.logger, "preview auto id", err)
	}
	return &AutoIDOutput{Body: AutoIDPreview{FieldID: input.FieldID, Next: next}}, nil
}
