package fat32

import (
	"reflect"
	"sort"
	"strings"

	"github.com/dsoprea/go-logging"
)

var (
	treeLogger = log.NewLogger("fat32.tree")
)

type TreeNode struct {
	name string
	file *File

	childrenFolders sort.StringSlice
	childrenFiles   sort.StringSlice

	childrenMap map[string]*TreeNode
}

func NewTreeNode(name string, file *File) (tn *TreeNode) {
	tn = &TreeNode{
		name: name,
		file: file,

		childrenFolders: make(sort.StringSlice, 0),
		childrenFiles:   make(sort.StringSlice, 0),

		childrenMap: make(map[string]*TreeNode),
	}

	return tn
}

func (tn *TreeNode) Name() string {
	return tn.name
}

func (tn *TreeNode) File() *File {
	return tn.file
}

func (tn *TreeNode) IsDirectory() bool {
	return tn.file.IsDirectory()
}

func (tn *TreeNode) ChildFolders() []string {
	return tn.childrenFolders
}

func (tn *TreeNode) ChildFiles() []string {
	return tn.childrenFiles
}

func (tn *TreeNode) GetChild(filename string) *TreeNode {
	return tn.childrenMap[filename]
}

func (tn *TreeNode) Lookup(pathParts []string) *TreeNode {
	if len(pathParts) == 0 {
		// We've reached and found the last part.
		return tn
	}

	childNode := tn.childrenMap[pathParts[0]]
	if childNode == nil {
		// An intermediate part was not found.
		return nil
	}

	return childNode.Lookup(pathParts[1:])
}

func (tn *TreeNode) AddChild(file *File) *TreeNode {
	name := file.Name()
	childNode := NewTreeNode(name, file)

	// Keep the children sorted so that visits are deterministic.

	var list sort.StringSlice
	if file.IsDirectory() == true {
		list = tn.childrenFolders
	} else {
		list = tn.childrenFiles
	}

	insertOrEqualAt := list.Search(name)

	if insertOrEqualAt >= len(list) {
		list = append(list, name)
	} else if list[insertOrEqualAt] != name {
		list = append(list, "")
		copy(list[insertOrEqualAt+1:], list[insertOrEqualAt:])
		list[insertOrEqualAt] = name
	}

	if file.IsDirectory() == true {
		tn.childrenFolders = list
	} else {
		tn.childrenFiles = list
	}

	tn.childrenMap[name] = childNode

	return childNode
}

// Tree is the whole directory hierarchy, loaded up front.
type Tree struct {
	fs       *FileSystem
	rootNode *TreeNode
}

func NewTree(fs *FileSystem) *Tree {
	rootNode := NewTreeNode("", fs.Root())

	return &Tree{
		fs:       fs,
		rootNode: rootNode,
	}
}

func (tree *Tree) loadDirectory(node *TreeNode, visited map[uint32]struct{}) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
			}
		}
	}()

	files, err := node.file.ListFiles(AnyEntry)
	log.PanicIf(err)

	for _, file := range files {
		childNode := node.AddChild(file)

		if file.IsDirectory() == false {
			continue
		}

		cluster := file.StartCluster()

		// A directory that loops back to one of its ancestors.
		if _, found := visited[cluster]; found == true || cluster == 0 {
			treeLogger.Warningf(nil, "Not descending into [%s] at cluster (%d).", file.Path(), cluster)
			continue
		}

		visited[cluster] = struct{}{}

		err := tree.loadDirectory(childNode, visited)
		log.PanicIf(err)

		delete(visited, cluster)
	}

	return nil
}

func (tree *Tree) Load() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
			}
		}
	}()

	visited := map[uint32]struct{}{
		tree.fs.bs.RootCluster: {},
	}

	err = tree.loadDirectory(tree.rootNode, visited)
	log.PanicIf(err)

	return nil
}

func (tree *Tree) Lookup(pathParts []string) (node *TreeNode) {
	return tree.rootNode.Lookup(pathParts)
}

type TreeVisitorFunc func(pathParts []string, node *TreeNode) (err error)

// Visit calls `cb` for every node, depth-first. Within a directory the
// subdirectories come before the files.
func (tree *Tree) Visit(cb TreeVisitorFunc) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
			}
		}
	}()

	pathParts := make([]string, 0)

	err = tree.visit(pathParts, tree.rootNode, cb)
	log.PanicIf(err)

	return nil
}

func (tree *Tree) visit(pathParts []string, node *TreeNode, cb TreeVisitorFunc) (err error) {
	err = cb(pathParts, node)
	if err != nil {
		return log.Wrap(err)
	}

	for _, childFolderName := range node.childrenFolders {
		childNode := node.childrenMap[childFolderName]

		childPathParts := make([]string, len(pathParts)+1)
		copy(childPathParts, pathParts)
		childPathParts[len(childPathParts)-1] = childFolderName

		err := tree.visit(childPathParts, childNode, cb)
		if err != nil {
			return log.Wrap(err)
		}
	}

	// Do the files all at once, at the bottom.
	for _, childFilename := range node.childrenFiles {
		childNode := node.childrenMap[childFilename]

		childPathParts := make([]string, len(pathParts)+1)
		copy(childPathParts, pathParts)
		childPathParts[len(childPathParts)-1] = childFilename

		err := cb(childPathParts, childNode)
		if err != nil {
			return log.Wrap(err)
		}
	}

	return nil
}

// List returns the slash-separated path of every node below the root.
func (tree *Tree) List() (files []string, nodes map[string]*TreeNode, err error) {
	files = make([]string, 0)
	nodes = make(map[string]*TreeNode)

	cb := func(pathParts []string, node *TreeNode) (err error) {
		if len(pathParts) == 0 {
			return nil
		}

		nodePath := strings.Join(pathParts, "/")

		files = append(files, nodePath)
		nodes[nodePath] = node

		return nil
	}

	err = tree.Visit(cb)
	if err != nil {
		return nil, nil, log.Wrap(err)
	}

	return files, nodes, nil
}
