// Package grid manages shared, lazily loaded voxel grids.
//
// A GridHandle references a GridData. Handles share GridData implicitly and
// copy it on GetForWrite when it is shared. A GridData in turn shares its
// tree with copies through TreeSharingInfo, so copying a grid never copies
// voxels until one side writes.
//
// Trees are read through an AccessToken:
//
//	var tok grid.AccessToken
//	tree := h.Get().Grid(&tok)
//	defer tok.Reset()
//
// While a token is live the tree stays loaded. Once the last token is reset
// a grid that still has its loader drops the tree and reads it again on the
// next access. Writing through GridForWrite detaches the loader for good.
//
// Loaders that fail do not surface errors to readers: the grid becomes an
// empty tree of the expected type and ErrorMessage reports what happened.
package grid
