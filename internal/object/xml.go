package object

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// xmlNode is a generic XML tree node decoded with encoding/xml.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

var (
	xmlIDBadChars   = regexp.MustCompile(`[^a-zA-Z0-9_/-]`)
	xmlIDRepeats    = regexp.MustCompile(`_+`)
	xmlIDStartsWord = regexp.MustCompile(`^[a-zA-Z_]`)
)

// sanitizeXMLID converts an XML path into a valid SA object id, keeping
// forward slashes, dashes and underscores as structure.
func sanitizeXMLID(path string) string {
	s := xmlIDBadChars.ReplaceAllString(path, "_")
	s = xmlIDRepeats.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s != "" && !xmlIDStartsWord.MatchString(s) {
		s = "xml_" + s
	}
	if s == "" {
		return "xml_root"
	}
	return s
}

// FromXML converts an XML document into one SA object per element.
//
// Element ids derive from the element's path in the tree ("xml_" plus the
// sanitized path, with a "-N" suffix when a tag repeats among its siblings);
// the root element uses the caller-supplied rootID so providers can hand out
// stable entry points. Attributes become properties, singleton children get
// link properties, and leaf text lands in "value". All objects share the
// type typeName + "_xml_node".
func FromXML(r io.Reader, source, typeName, rootID string) ([]Object, error) {
	var root xmlNode
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("object: parse xml: %w", err)
	}
	nodeType := typeName + "_xml_node"
	return xmlWalk(&root, nodeType, source, rootID, "", "", nil), nil
}

// xmlWalk converts node and its subtree. siblings is the parent's child list,
// used to decide whether this node's path needs an index suffix.
func xmlWalk(node *xmlNode, nodeType, source, overrideID, parentPath, parentID string, siblings []xmlNode) []Object {
	tag := node.XMLName.Local

	path := tag
	if parentPath != "" {
		path = parentPath + "/" + tag
	}
	if n, pos := xmlSiblingPosition(node, siblings); n > 1 {
		path = fmt.Sprintf("%s-%d", path, pos)
	}

	id := "xml_" + sanitizeXMLID(path)
	if overrideID != "" {
		id = overrideID
	}

	props := make(map[string]any)

	// Singleton children become direct link properties; repeated tags are
	// only reachable through the children link.
	tagCounts := make(map[string]int, len(node.Children))
	for _, child := range node.Children {
		tagCounts[child.XMLName.Local]++
	}
	for _, child := range node.Children {
		name := child.XMLName.Local
		if tagCounts[name] == 1 {
			props[name] = Link(fmt.Sprintf("%s#'%s/%s'", nodeType, id, name), name)
		}
	}

	attrs := make(map[string]any, len(node.Attrs))
	for _, a := range node.Attrs {
		attrs[a.Name.Local] = a.Value
		props[a.Name.Local] = a.Value
	}

	props["tag"] = tag
	props["attributes"] = attrs
	props["children"] = Link(fmt.Sprintf("%s[.parent.# == '%s']", nodeType, id), "Children")
	if parentID != "" {
		props["parent"] = Link(fmt.Sprintf("%s#'%s'", nodeType, parentID), parentID)
	}
	if text := strings.TrimSpace(node.Content); text != "" && len(node.Children) == 0 {
		props["value"] = text
	}

	objs := []Object{New(id, []string{nodeType}, source, props)}
	for i := range node.Children {
		objs = append(objs, xmlWalk(&node.Children[i], nodeType, source, "", path, id, node.Children)...)
	}
	return objs
}

// xmlSiblingPosition returns how many siblings share node's tag and this
// node's 1-based position among them.
func xmlSiblingPosition(node *xmlNode, siblings []xmlNode) (count, pos int) {
	if siblings == nil {
		return 1, 1
	}
	for i := range siblings {
		if siblings[i].XMLName.Local != node.XMLName.Local {
			continue
		}
		count++
		if &siblings[i] == node {
			pos = count
		}
	}
	if count == 0 {
		return 1, 1
	}
	return count, pos
}
