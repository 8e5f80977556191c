// Package resolver turns a step's logical element name into a concrete
// selector using an ordered list of locator strategies. The order encodes
// stability preference: attributes least likely to change (test ids, ids)
// win over presentation-derived attributes (text, placeholder).
package resolver

import (
	"fmt"
	"strings"

	"github.com/ternarybob/probatio/internal/interfaces"
	"github.com/ternarybob/probatio/internal/models"
)

// LocatorNotFoundError means no stable locator could be determined for a
// target: its blueprint entry carries no usable attribute, or the name is
// absent from both the blueprint and the known-elements table. Terminal
// for the step; the resolver itself never retries.
type LocatorNotFoundError struct {
	Target string
}

func (e *LocatorNotFoundError) Error() string {
	return fmt.Sprintf("no locator found for element %q", e.Target)
}

// Strategy is one pure attribute-to-selector rule. Apply returns the
// selector and true when the rule matches the blueprint entry.
type Strategy struct {
	Name  string
	Apply func(el *models.BlueprintElement) (interfaces.Selector, bool)
}

// Strategies returns the locator strategies in priority order
func Strategies() []Strategy {
	return []Strategy{
		{
			Name: "data-test",
			Apply: func(el *models.BlueprintElement) (interfaces.Selector, bool) {
				if el.DataTest == "" {
					return interfaces.Selector{}, false
				}
				return cssSelector(fmt.Sprintf("[data-test=%s]", cssString(el.DataTest))), true
			},
		},
		{
			Name: "id",
			Apply: func(el *models.BlueprintElement) (interfaces.Selector, bool) {
				if el.ID == "" {
					return interfaces.Selector{}, false
				}
				return cssSelector(fmt.Sprintf("[id=%s]", cssString(el.ID))), true
			},
		},
		{
			Name: "text",
			Apply: func(el *models.BlueprintElement) (interfaces.Selector, bool) {
				if el.Text == "" {
					return interfaces.Selector{}, false
				}
				// Exact text match, scoped to leaf elements to avoid
				// matching every ancestor that contains the text
				return xpathSelector(fmt.Sprintf("//*[normalize-space(text())=%s]", xpathString(el.Text))), true
			},
		},
		{
			Name: "placeholder",
			Apply: func(el *models.BlueprintElement) (interfaces.Selector, bool) {
				if el.Placeholder == "" {
					return interfaces.Selector{}, false
				}
				return cssSelector(fmt.Sprintf("[placeholder=%s]", cssString(el.Placeholder))), true
			},
		},
	}
}

// knownElements maps well-known post-navigation element names to static
// selectors. Used only when the blueprint has no entry for the target:
// pages reached mid-journey may not have been discovered yet.
var knownElements = map[string]interfaces.Selector{
	"Inventory_List":      cssSelector(".inventory_list"),
	"Inventory_Container": cssSelector("#inventory_container"),
	"Shopping_Cart":       cssSelector(".shopping_cart_link"),
	"Error_Message":       cssSelector("[data-test='error']"),
	"Burger_Menu":         cssSelector("#react-burger-menu-btn"),
	"Logout_Link":         cssSelector("#logout_sidebar_link"),
}

// Resolve maps a logical element name to a concrete selector, first
// matching strategy wins. Fails with LocatorNotFoundError when the name is
// unknown; it never silently returns a partial match.
func Resolve(targetName string, blueprint []models.BlueprintElement) (interfaces.Selector, error) {
	var element *models.BlueprintElement
	for i := range blueprint {
		if blueprint[i].LogicalName == targetName {
			element = &blueprint[i]
			break
		}
	}

	if element != nil {
		for _, strategy := range Strategies() {
			if sel, ok := strategy.Apply(element); ok {
				return sel, nil
			}
		}
		// An entry with no usable attribute is terminal. Falling back to
		// the static table here could silently target a different element
		// than the one discovery recorded.
		return interfaces.Selector{}, &LocatorNotFoundError{Target: targetName}
	}

	if sel, ok := knownElements[targetName]; ok {
		return sel, nil
	}

	return interfaces.Selector{}, &LocatorNotFoundError{Target: targetName}
}

func cssSelector(query string) interfaces.Selector {
	return interfaces.Selector{Query: query, Kind: interfaces.SelectorCSS}
}

func xpathSelector(query string) interfaces.Selector {
	return interfaces.Selector{Query: query, Kind: interfaces.SelectorXPath}
}

// cssString quotes a value for use inside a CSS attribute selector
func cssString(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

// xpathString builds an XPath string literal. XPath 1.0 has no escape
// syntax, so values containing both quote kinds need concat().
func xpathString(value string) string {
	if !strings.Contains(value, `"`) {
		return `"` + value + `"`
	}
	if !strings.Contains(value, "'") {
		return "'" + value + "'"
	}
	parts := strings.Split(value, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		quoted = append(quoted, `"`+p+`"`)
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
